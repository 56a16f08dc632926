// Command flowdemo wires an SRT source, a caption filter, and a QUIC
// sink into a three-element pipeline using only the public element and
// pad API, then drives all three to Playing until interrupted.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowmesh/core/certs"
	"github.com/flowmesh/core/element"
	"github.com/flowmesh/core/examples/captionfilter"
	"github.com/flowmesh/core/examples/quicsink"
	"github.com/flowmesh/core/examples/srtsource"
	"github.com/flowmesh/core/pad"
	"github.com/flowmesh/core/pullbuffer"
)

func main() {
	level := slog.LevelInfo
	if envOr("FLOWMESH_LOG_LEVEL", "") == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	srtAddr := envOr("SRT_ADDR", ":6000")
	quicAddr := envOr("QUIC_ADDR", ":4443")

	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(14 * 24 * time.Hour)
	if err != nil {
		slog.Error("failed to generate cert", "error", err)
		os.Exit(1)
	}
	slog.Info("certificate generated", "fingerprint", cert.FingerprintBase64())

	src := srtsource.New(srtAddr)
	filter := captionfilter.New()
	sink := quicsink.New(quicAddr, cert)

	srcHandle, err := element.Start("srtsource", src, nil)
	if err != nil {
		slog.Error("start srtsource", "error", err)
		os.Exit(1)
	}
	filterHandle, err := element.Start("captionfilter", filter, nil)
	if err != nil {
		slog.Error("start captionfilter", "error", err)
		os.Exit(1)
	}
	sinkHandle, err := element.Start("quicsink", sink, nil)
	if err != nil {
		slog.Error("start quicsink", "error", err)
		os.Exit(1)
	}
	src.Attach(srcHandle)

	if err := link(srcHandle, "out", pad.Push, filterHandle, "in", pad.Push, pullbuffer.UnitBuffers); err != nil {
		slog.Error("link srtsource->captionfilter", "error", err)
		os.Exit(1)
	}
	if err := link(filterHandle, "out", pad.Push, sinkHandle, "in", pad.Pull, pullbuffer.UnitBytes); err != nil {
		slog.Error("link captionfilter->quicsink", "error", err)
		os.Exit(1)
	}
	srcHandle.LinkingFinished()
	filterHandle.LinkingFinished()
	sinkHandle.LinkingFinished()

	for _, h := range []*element.Handle{sinkHandle, filterHandle, srcHandle} {
		h.ChangePlaybackState(element.Prepared)
		h.ChangePlaybackState(element.Playing)
	}

	slog.Info("flowdemo running", "srt", srtAddr, "quic", quicAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	var g errgroup.Group
	for _, h := range []*element.Handle{srcHandle, filterHandle, sinkHandle} {
		h := h
		g.Go(func() error { return element.Shutdown(h, 5*time.Second) })
	}
	if err := g.Wait(); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// link drives both halves of the link handshake between an upstream
// output pad and a downstream input pad. upMode/downMode are each
// side's own declared pad mode, reported to the other side as its
// LinkInfo.Mode; unit is the downstream pad's demand unit, echoed back
// to it as OtherDemandUnit when it is pull-mode.
func link(up *element.Handle, upPad string, upMode pad.Mode, down *element.Handle, downPad string, downMode pad.Mode, unit pullbuffer.Unit) error {
	upRef := pad.Ref{Name: upPad}
	downRef := pad.Ref{Name: downPad}

	if _, err := up.RequestLink(upRef, down, downRef, pad.LinkInfo{Mode: downMode, OtherDemandUnit: unit}); err != nil {
		return err
	}
	if _, err := down.RequestLink(downRef, up, upRef, pad.LinkInfo{Mode: upMode, OtherDemandUnit: unit}); err != nil {
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
