// Command roc-send reads raw interleaved PCM from stdin and streams it
// to a receiver over UDP. Channel mapping and rate conversion are the
// caller's responsibility (stdin is assumed to already match the
// configured format); this binary drives packetizer → FEC writer →
// interleaver → UDP.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"roc/internal/config"
	"roc/internal/ctltransport"
	"roc/internal/endpoint"
	"roc/internal/fec"
	"roc/internal/frame"
	"roc/internal/packet"
	"roc/internal/pipeline"
	"roc/internal/rtp"
	"roc/internal/task"
	"roc/internal/telemetry"
	"roc/internal/udpio"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:10001", "destination source-endpoint UDP address")
	repairAddr := flag.String("repair-addr", "", "destination repair-endpoint UDP address (empty disables FEC)")
	scheme := flag.String("fec", "none", "FEC scheme: none, rs8m, ldpc")
	fecSource := flag.Int("fec-source", config.DefaultFECSourcePkts, "FEC source packets per block (k)")
	fecRepair := flag.Int("fec-repair", config.DefaultFECRepairPkts, "FEC repair packets per block (m)")
	packetMillis := flag.Int("packet-ms", config.DefaultPacketMillis, "packet length in milliseconds")
	sampleRate := flag.Int("rate", config.DefaultSampleRate, "sample rate, Hz")
	mono := flag.Bool("mono", false, "input is mono instead of stereo")
	ctlAddr := flag.String("ctl-addr", "", "control-plane listen address (empty disables it)")
	promAddr := flag.String("prom-addr", "", "Prometheus /metrics listen address (empty disables it)")
	otlpAddr := flag.String("otlp-addr", "", "OTLP/HTTP trace collector address (empty disables export)")
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.DefaultSenderConfig()
	cfg.Addr = *addr
	cfg.SampleRate = *sampleRate
	cfg.PacketMillis = *packetMillis
	if *mono {
		cfg.Channels = 1
	}
	switch *scheme {
	case "rs8m":
		cfg.FECScheme = packet.SchemeRS8M
	case "ldpc":
		cfg.FECScheme = packet.SchemeLDPCStaircase
	case "none":
	default:
		log.Fatal("unknown -fec value", zap.String("fec", *scheme))
	}
	cfg.FECSource, cfg.FECRepair = *fecSource, *fecRepair
	if cfg.FECScheme != packet.SchemeNone && *repairAddr == "" {
		log.Fatal("-repair-addr is required when -fec is not none")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	telemetry.NewMetrics(reg) // sender side mostly just exposes the shared registry at -prom-addr

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigs; cancel() }()

	if *promAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *promAddr, Handler: mux}
		go srv.ListenAndServe()
		go func() { <-ctx.Done(); srv.Close() }()
	}

	tracer, err := telemetry.NewTracer(ctx, telemetry.TracerConfig{
		ServiceName: "roc-send", OTLPEndpoint: *otlpAddr, SampleRate: 1,
	})
	if err != nil {
		log.Fatal("tracer setup failed", zap.Error(err))
	}
	defer tracer.Shutdown(context.Background())

	if err := run(ctx, cfg, *repairAddr, log, *ctlAddr, tracer); err != nil {
		log.Fatal("sender exited with error", zap.Error(err))
	}
}

// demuxSink splits composed packets between the source and repair UDP
// sockets based on the packet's role flag, the final transport-side
// stage the FEC writer's "sources first, repairs after" ordering
// guarantee flows into.
type demuxSink struct {
	source *udpio.Sender
	repair *udpio.Sender
}

func (d *demuxSink) Write(p *packet.Packet) error {
	if p.Flags().Has(packet.FlagRepair) && d.repair != nil {
		return d.repair.Write(p)
	}
	return d.source.Write(p)
}

func run(ctx context.Context, cfg config.SenderConfig, repairAddr string, log *zap.Logger, ctlAddr string, tracer *telemetry.Tracer) error {
	pktPool := packet.NewPool(cfg.PacketPoolSize, nil)
	footerSpare := 0
	if cfg.FECScheme == packet.SchemeRS8M {
		footerSpare = fec.RS8MFooterLen
	} else if cfg.FECScheme == packet.SchemeLDPCStaircase {
		footerSpare = fec.LDPCFooterLen
	}
	// Room for the payload, the RTP header, the FEC footer, and the
	// origin shift that keeps payloads aligned within their buffers.
	blockSize := cfg.PacketSamples()*cfg.Channels.Count()*cfg.Format.BytesPerSample() +
		rtp.HeaderLen + footerSpare + rtp.AlignOffset(rtp.HeaderLen, rtp.PayloadAlign)
	bufPool := packet.NewBufferPool(blockSize, cfg.BufferPoolSize, false, nil)

	sourceSender, err := udpio.NewSender("", cfg.Addr, log)
	if err != nil {
		return fmt.Errorf("source socket: %w", err)
	}
	defer sourceSender.Close()

	sink := &demuxSink{source: sourceSender}
	if cfg.FECScheme != packet.SchemeNone {
		repairSender, err := udpio.NewSender("", repairAddr, log)
		if err != nil {
			return fmt.Errorf("repair socket: %w", err)
		}
		defer repairSender.Close()
		sink.repair = repairSender
	}

	interleaver := pipeline.NewInterleaver(cfg.Interleave, pipeline.GeneratePermutation(cfg.Interleave), sink)

	var pzNext pipeline.Downstream = interleaver
	var fecWriter *fec.Writer
	if cfg.FECScheme != packet.SchemeNone {
		var encoder fec.BlockEncoder
		if cfg.FECScheme == packet.SchemeRS8M {
			encoder = fec.NewRS8MCodec()
		} else {
			encoder = fec.NewLDPCStaircaseCodec()
		}
		fecWriter = fec.NewWriter(encoder, cfg.FECScheme, cfg.FECSource, cfg.FECRepair, pktPool, bufPool, interleaver, log)
		pzNext = fecWriter
	}

	packetizer := pipeline.NewPacketizer(cfg.PacketSamples(), cfg.PayloadType, cfg.Format, cfg.Channels, footerSpare, pktPool, bufPool, pzNext, log)
	log.Info("roc-send: pipeline ready",
		zap.Uint32("source_id", packetizer.SourceID()), zap.String("dst", cfg.Addr),
		zap.String("fec", cfg.FECScheme.String()))

	tasks := task.New()
	tasks.Budget = 16

	// Register this process's single endpoint set before the audio loop
	// takes over as the task worker; a throwaway timer scheduler drains
	// the bootstrap submissions in the meantime.
	endpoints := endpoint.NewTable(tasks, log)
	boot := task.NewTimerScheduler(time.Millisecond)
	boot.Start(tasks)
	liveSetID, err := bootstrapEndpoints(ctx, endpoints, cfg, repairAddr)
	boot.Stop()
	if err != nil {
		return fmt.Errorf("endpoint bootstrap: %w", err)
	}

	sched := task.NewInlineScheduler()
	sched.Start(tasks)

	if ctlAddr != "" {
		ctlServer := ctltransport.NewServer(log, func(ctx context.Context, req ctltransport.Request) ctltransport.Response {
			ctx, span := tracer.StartTaskSpan(ctx, req.Op)
			defer span.End()
			return handleCtlRequest(ctx, req, tasks, fecWriter, endpoints, liveSetID, sink)
		})
		go func() {
			if err := ctlServer.Serve(ctx, ctlAddr); err != nil {
				log.Warn("ctltransport server stopped", zap.Error(err))
			}
		}()
	}

	flush := func() error {
		if err := packetizer.Flush(); err != nil {
			return err
		}
		if fecWriter != nil {
			if err := fecWriter.Flush(); err != nil {
				return err
			}
		}
		return interleaver.Flush()
	}
	return streamStdin(ctx, cfg, packetizer, flush, sched, log)
}

// bootstrapEndpoints registers the endpoint set this sender was
// launched with: a source endpoint always, plus a repair sibling when
// FEC is on.
func bootstrapEndpoints(ctx context.Context, endpoints *endpoint.Table, cfg config.SenderConfig, repairAddr string) (uint64, error) {
	setID, err := endpoints.AddSet(ctx)
	if err != nil {
		return 0, err
	}
	sourceProto := endpoint.ProtoRTP
	switch cfg.FECScheme {
	case packet.SchemeRS8M:
		sourceProto = endpoint.ProtoRTPRS8MSource
	case packet.SchemeLDPCStaircase:
		sourceProto = endpoint.ProtoRTPLDPCSource
	}
	if err := endpoints.CreateEndpoint(ctx, setID, sourceProto, cfg.Addr); err != nil {
		return 0, err
	}
	if cfg.FECScheme != packet.SchemeNone {
		repairProto := endpoint.ProtoRS8MRepair
		if cfg.FECScheme == packet.SchemeLDPCStaircase {
			repairProto = endpoint.ProtoLDPCRepair
		}
		if err := endpoints.CreateEndpoint(ctx, setID, repairProto, repairAddr); err != nil {
			return 0, err
		}
	}
	return setID, nil
}

// streamStdin reads fixed-size frames of raw PCM from stdin, in
// little-endian byte order, and feeds them to the packetizer once
// per packet_length. flush drains the whole chain (packetizer, FEC
// writer, interleaver) so no buffered packet is lost at stream end.
func streamStdin(ctx context.Context, cfg config.SenderConfig, pz *pipeline.Packetizer, flush func() error, sched *task.InlineScheduler, log *zap.Logger) error {
	channels := cfg.Channels.Count()
	samplesPerRead := cfg.PacketSamples() * channels
	buf := make([]byte, samplesPerRead*cfg.Format.BytesPerSample())

	for {
		select {
		case <-ctx.Done():
			return flush()
		default:
		}

		n, err := io.ReadFull(os.Stdin, buf)
		if n > 0 {
			samples := decodeNative(buf[:n], cfg)
			if werr := pz.Write(frame.Frame{Samples: samples, Duration: n / (channels * cfg.Format.BytesPerSample())}); werr != nil {
				log.Warn("roc-send: packetizer write failed", zap.Error(werr))
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return flush()
		}
		if err != nil {
			return err
		}
		sched.Tick()
	}
}

// resizeArgs is the Args payload for the "resize_fec" control op.
type resizeArgs struct {
	K int `json:"k"`
	M int `json:"m"`
}

// endpointArgs is the shared Args payload of the endpoint-set ops.
type endpointArgs struct {
	SetID  uint64 `json:"set_id"`
	Proto  string `json:"proto,omitempty"`
	Addr   string `json:"addr,omitempty"`
	Repair bool   `json:"repair,omitempty"`
}

// handleCtlRequest dispatches one control-plane request onto the
// pipeline's own task goroutine, so an endpoint-set mutation never races
// the packetizer.
func handleCtlRequest(ctx context.Context, req ctltransport.Request, tasks *task.Pipeline, fecWriter *fec.Writer, endpoints *endpoint.Table, liveSetID uint64, sink *demuxSink) ctltransport.Response {
	switch req.Op {
	case "ping":
		if err := tasks.SubmitSync(ctx, func() error { return nil }); err != nil {
			return ctltransport.Response{OK: false, Error: err.Error()}
		}
		return ctltransport.Response{OK: true}

	case "resize_fec":
		if fecWriter == nil {
			return ctltransport.Response{OK: false, Error: "fec is disabled on this sender"}
		}
		var args resizeArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return ctltransport.Response{OK: false, Error: fmt.Sprintf("bad args: %v", err)}
		}
		err := tasks.SubmitSync(ctx, func() error {
			fecWriter.Resize(args.K, args.M)
			return nil
		})
		if err != nil {
			return ctltransport.Response{OK: false, Error: err.Error()}
		}
		return ctltransport.Response{OK: true}

	case "add_endpoint_set":
		id, err := endpoints.AddSet(ctx)
		if err != nil {
			return ctltransport.Response{OK: false, Error: err.Error()}
		}
		data, _ := json.Marshal(map[string]uint64{"set_id": id})
		return ctltransport.Response{OK: true, Data: data}

	case "delete_endpoint_set":
		args, resp := decodeEndpointArgs(req)
		if resp != nil {
			return *resp
		}
		if err := endpoints.DeleteSet(ctx, args.SetID); err != nil {
			return ctltransport.Response{OK: false, Error: err.Error()}
		}
		return ctltransport.Response{OK: true}

	case "create_endpoint":
		args, resp := decodeEndpointArgs(req)
		if resp != nil {
			return *resp
		}
		proto, err := endpoint.ParseProto(args.Proto)
		if err != nil {
			return ctltransport.Response{OK: false, Error: err.Error()}
		}
		if err := endpoints.CreateEndpoint(ctx, args.SetID, proto, args.Addr); err != nil {
			return ctltransport.Response{OK: false, Error: err.Error()}
		}
		return ctltransport.Response{OK: true}

	case "delete_endpoint":
		args, resp := decodeEndpointArgs(req)
		if resp != nil {
			return *resp
		}
		if err := endpoints.DeleteEndpoint(ctx, args.SetID, args.Repair); err != nil {
			return ctltransport.Response{OK: false, Error: err.Error()}
		}
		return ctltransport.Response{OK: true}

	case "set_endpoint_dest":
		args, resp := decodeEndpointArgs(req)
		if resp != nil {
			return *resp
		}
		if err := endpoints.SetDestination(ctx, args.SetID, args.Repair, args.Addr); err != nil {
			return ctltransport.Response{OK: false, Error: err.Error()}
		}
		// Retargeting the live set also swaps the actual socket
		// destination, on the worker so it never races a send.
		if args.SetID == liveSetID {
			err := tasks.SubmitSync(ctx, func() error {
				if args.Repair {
					if sink.repair == nil {
						return fmt.Errorf("no repair socket on this sender")
					}
					return sink.repair.SetDest(args.Addr)
				}
				return sink.source.SetDest(args.Addr)
			})
			if err != nil {
				return ctltransport.Response{OK: false, Error: err.Error()}
			}
		}
		return ctltransport.Response{OK: true}

	case "list_endpoint_sets":
		snap, err := endpoints.Snapshot(ctx)
		if err != nil {
			return ctltransport.Response{OK: false, Error: err.Error()}
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return ctltransport.Response{OK: false, Error: err.Error()}
		}
		return ctltransport.Response{OK: true, Data: data}

	default:
		return ctltransport.Response{OK: false, Error: "unsupported op: " + req.Op}
	}
}

func decodeEndpointArgs(req ctltransport.Request) (endpointArgs, *ctltransport.Response) {
	var args endpointArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return args, &ctltransport.Response{OK: false, Error: fmt.Sprintf("bad args: %v", err)}
	}
	return args, nil
}

func decodeNative(buf []byte, cfg config.SenderConfig) []float64 {
	bps := cfg.Format.BytesPerSample()
	n := len(buf) / bps
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		switch bps {
		case 2:
			v := int16(binary.LittleEndian.Uint16(buf[i*2:]))
			out[i] = float64(v) / 32768.0
		case 4:
			bits := binary.LittleEndian.Uint32(buf[i*4:])
			out[i] = float64(math.Float32frombits(bits))
		}
	}
	return out
}
