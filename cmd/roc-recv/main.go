// Command roc-recv listens for a sender's audio (and, if configured,
// repair) UDP stream and writes decoded, jitter-compensated, resampled
// raw PCM to stdout. It drives the receiver half of the pipeline:
// router → FEC reader (optional) → validator → jitter buffer →
// depacketizer → watchdog, with the latency monitor steering a
// resampler and a single-session mixer producing the output frame.
//
// Per router.go's own documented limitation, a repair endpoint's
// packets carry no RTP source-id and so cannot be demultiplexed across
// concurrent FEC sessions; this binary scopes to one active session,
// matching that constraint rather than working around it.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
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
	"roc/internal/latency"
	"roc/internal/mixer"
	"roc/internal/packet"
	"roc/internal/router"
	"roc/internal/rtp"
	"roc/internal/session"
	"roc/internal/task"
	"roc/internal/telemetry"
	"roc/internal/udpio"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:10001", "source-endpoint UDP listen address")
	repairAddr := flag.String("repair-addr", "", "repair-endpoint UDP listen address (empty disables FEC)")
	scheme := flag.String("fec", "none", "FEC scheme: none, rs8m, ldpc")
	packetMillis := flag.Int("packet-ms", config.DefaultPacketMillis, "expected sender packet length in milliseconds")
	sampleRate := flag.Int("rate", config.DefaultSampleRate, "sample rate, Hz")
	mono := flag.Bool("mono", false, "output is mono instead of stereo")
	quality := flag.Int("quality", 1, "resampler quality: 0=low, 1=medium, 2=high")
	ctlAddr := flag.String("ctl-addr", "", "control-plane listen address (empty disables it)")
	promAddr := flag.String("prom-addr", "", "Prometheus /metrics listen address (empty disables it)")
	otlpAddr := flag.String("otlp-addr", "", "OTLP/HTTP trace collector address (empty disables export)")
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.DefaultReceiverConfig()
	cfg.Addr = *addr
	cfg.SampleRate = *sampleRate
	cfg.PacketMillis = *packetMillis
	cfg.ResamplerQuality = *quality
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
	if cfg.FECScheme != packet.SchemeNone && *repairAddr == "" {
		log.Fatal("-repair-addr is required when -fec is not none")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

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
		ServiceName: "roc-recv", OTLPEndpoint: *otlpAddr, SampleRate: 1,
	})
	if err != nil {
		log.Fatal("tracer setup failed", zap.Error(err))
	}
	defer tracer.Shutdown(context.Background())

	if err := run(ctx, cfg, *repairAddr, metrics, log, *ctlAddr, tracer); err != nil {
		log.Fatal("receiver exited with error", zap.Error(err))
	}
}

// sessionPipeline is the one session this binary supports: validator →
// jitter buffer → depacketizer → watchdog, plus the latency monitor and
// resampler steered off the depacketizer's read cursor.
// It implements router.Writer (and, transitively, fec.Downstream) so
// the FEC reader, when present, can sit directly in front of it.
type sessionPipeline struct {
	validator *session.Validator
	jb        *session.JitterBuffer
	depkt     *session.Depacketizer
	watchdog  *session.Watchdog

	writerCursor uint32
	haveWriter   bool

	metrics *telemetry.Metrics
	ssrc    string
}

func newSessionPipeline(cfg config.ReceiverConfig, log *zap.Logger, metrics *telemetry.Metrics) *sessionPipeline {
	packetSamples := cfg.PacketSamples()
	jb := session.NewJitterBuffer(cfg.JitterCapacityPackets(packetSamples))
	return &sessionPipeline{
		validator: session.NewValidator(cfg.MaxSnJump, cfg.MaxTsJump),
		jb:        jb,
		depkt:     session.NewDepacketizer(jb, cfg.Format, cfg.Channels, cfg.Channels),
		watchdog:  session.NewWatchdog(cfg.WatchdogWindowSamples(), cfg.NoPlaybackSamples(), log),
		metrics:   metrics,
	}
}

// Write admits one packet carrying an RTP view (a direct arrival or an
// FEC-recovered reconstruction) into the session, after validation.
func (s *sessionPipeline) Write(p *packet.Packet) error {
	if !p.Flags().Has(packet.FlagRTP) {
		p.Release()
		return nil
	}
	if !s.validator.Accept(p) {
		if s.metrics != nil {
			s.metrics.ValidatorDrop.WithLabelValues("identity_or_jump").Inc()
		}
		p.Release()
		return nil
	}

	rv := p.RTP()
	if s.ssrc == "" {
		s.ssrc = fmt.Sprintf("%08x", rv.SourceID)
	}
	end := rv.Timestamp + rv.Duration
	if !s.haveWriter || packet.TSDelta(s.writerCursor, end) > 0 {
		s.writerCursor = end
		s.haveWriter = true
	}

	if !s.jb.Push(p) {
		p.Release()
	}
	return nil
}

// Reap replaces every piece of per-session state with a fresh instance
// once a session-fatal condition fired (watchdog timeout or
// latency-bound breach): the watchdog marks, the next audio frame
// reaps. This binary's single session slot is then immediately ready
// to admit a new RTP stream.
func (s *sessionPipeline) Reap(cfg config.ReceiverConfig, log *zap.Logger) {
	for {
		p, ok := s.jb.Pop()
		if !ok {
			break
		}
		p.Release()
	}
	jb := session.NewJitterBuffer(cfg.JitterCapacityPackets(cfg.PacketSamples()))
	s.validator = session.NewValidator(cfg.MaxSnJump, cfg.MaxTsJump)
	s.jb = jb
	s.depkt = session.NewDepacketizer(jb, cfg.Format, cfg.Channels, cfg.Channels)
	s.watchdog = session.NewWatchdog(cfg.WatchdogWindowSamples(), cfg.NoPlaybackSamples(), log)
	s.writerCursor = 0
	s.haveWriter = false
	s.ssrc = ""
}

func run(ctx context.Context, cfg config.ReceiverConfig, repairAddr string, metrics *telemetry.Metrics, log *zap.Logger, ctlAddr string, tracer *telemetry.Tracer) error {
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

	sess := newSessionPipeline(cfg, log, metrics)

	var entry router.Writer = sess
	var fecReader *fec.Reader
	if cfg.FECScheme != packet.SchemeNone {
		var decoder fec.BlockDecoder
		if cfg.FECScheme == packet.SchemeRS8M {
			decoder = fec.NewRS8MCodec()
		} else {
			decoder = fec.NewLDPCStaircaseCodec()
		}
		fecReader = fec.NewReader(decoder, cfg.FECScheme, pktPool, bufPool, sess, log)
		entry = fecReader
	}

	rt := router.New()
	rt.AddRoute(packet.FlagAudio, func(uint32) router.Writer { return entry })
	if cfg.FECScheme != packet.SchemeNone {
		rt.AddRoute(packet.FlagRepair, func(uint32) router.Writer { return entry })
	}

	// The network read loops never touch session state directly: they
	// enqueue here, and the audio loop drains into the router at each
	// frame boundary.
	inbound := udpio.NewQueue(cfg.PacketPoolSize)

	sourceRecv, err := udpio.NewReceiver(cfg.Addr, udpio.EndpointSource, cfg.FECScheme, cfg.Format, cfg.Channels, pktPool, bufPool, inbound, log)
	if err != nil {
		return fmt.Errorf("source socket: %w", err)
	}
	go func() {
		if err := sourceRecv.Run(ctx); err != nil {
			log.Warn("udpio: source receiver stopped", zap.Error(err))
		}
	}()

	if cfg.FECScheme != packet.SchemeNone {
		repairRecv, err := udpio.NewReceiver(repairAddr, udpio.EndpointRepair, cfg.FECScheme, cfg.Format, cfg.Channels, pktPool, bufPool, inbound, log)
		if err != nil {
			return fmt.Errorf("repair socket: %w", err)
		}
		go func() {
			if err := repairRecv.Run(ctx); err != nil {
				log.Warn("udpio: repair receiver stopped", zap.Error(err))
			}
		}()
	}

	log.Info("roc-recv: pipeline ready", zap.String("addr", cfg.Addr), zap.String("fec", cfg.FECScheme.String()))

	tasks := task.New()
	tasks.Budget = 16

	endpoints := endpoint.NewTable(tasks, log)
	boot := task.NewTimerScheduler(time.Millisecond)
	boot.Start(tasks)
	err = bootstrapEndpoints(ctx, endpoints, cfg, repairAddr, entry)
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
			return handleCtlRequest(ctx, req, tasks, sess, endpoints)
		})
		go func() {
			if err := ctlServer.Serve(ctx, ctlAddr); err != nil {
				log.Warn("ctltransport server stopped", zap.Error(err))
			}
		}()
	}

	return playbackLoop(ctx, cfg, sess, fecReader, rt, inbound, sched, metrics, log)
}

// bootstrapEndpoints registers the endpoint set this receiver was
// launched with and binds the session pipeline as the source endpoint's
// output writer.
func bootstrapEndpoints(ctx context.Context, endpoints *endpoint.Table, cfg config.ReceiverConfig, repairAddr string, out endpoint.Writer) error {
	setID, err := endpoints.AddSet(ctx)
	if err != nil {
		return err
	}
	sourceProto := endpoint.ProtoRTP
	switch cfg.FECScheme {
	case packet.SchemeRS8M:
		sourceProto = endpoint.ProtoRTPRS8MSource
	case packet.SchemeLDPCStaircase:
		sourceProto = endpoint.ProtoRTPLDPCSource
	}
	if err := endpoints.CreateEndpoint(ctx, setID, sourceProto, cfg.Addr); err != nil {
		return err
	}
	if err := endpoints.SetOutput(ctx, setID, false, out); err != nil {
		return err
	}
	if cfg.FECScheme != packet.SchemeNone {
		repairProto := endpoint.ProtoRS8MRepair
		if cfg.FECScheme == packet.SchemeLDPCStaircase {
			repairProto = endpoint.ProtoLDPCRepair
		}
		if err := endpoints.CreateEndpoint(ctx, setID, repairProto, repairAddr); err != nil {
			return err
		}
		if err := endpoints.SetOutput(ctx, setID, true, out); err != nil {
			return err
		}
	}
	return nil
}

// playbackLoop drains one packet_length's worth of audio per tick: it
// reads from the depacketizer, feeds the watchdog, steers the
// resampler off the latency monitor's verdict, mixes the (single)
// session into one output frame, and writes raw PCM to stdout.
func playbackLoop(ctx context.Context, cfg config.ReceiverConfig, sess *sessionPipeline, fecReader *fec.Reader, rt *router.Router, inbound *udpio.Queue, sched *task.InlineScheduler, metrics *telemetry.Metrics, log *zap.Logger) error {
	packetSamples := cfg.PacketSamples()
	mon := latency.NewMonitor(cfg.TargetLatencySamples(),
		int(float64(cfg.TargetLatencySamples())*cfg.MinLatencyRatio),
		int(float64(cfg.TargetLatencySamples())*cfg.MaxLatencyRatio),
		cfg.MaxLatencyRatio-1, log)
	resampler := latency.NewResampler(latency.Quality(cfg.ResamplerQuality), cfg.Channels.Count())
	mix := mixer.New(cfg.Channels.Count())
	prof := mixer.NewProfiler(cfg.Channels.Count(), cfg.SampleRate, time.Second)

	ticker := newFrameTicker(cfg.SampleRate, packetSamples)
	defer ticker.Stop()

	var prevRouterDropped, prevFECRecovered, prevFECUnrecoverable uint64
	idleTicks := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		sched.Tick()
		if inbound.Drain(rt.Dispatch) == 0 {
			idleTicks++
		} else {
			idleTicks = 0
		}
		// A block normally closes on its own as source packets arrive;
		// the explicit poll only fires once the stream has stalled, so a
		// still-filling block is never cut short.
		if fecReader != nil && idleTicks >= 2 {
			if err := fecReader.Poll(); err != nil {
				log.Warn("roc-recv: fec poll failed", zap.Error(err))
			}
		}

		if metrics != nil {
			prevRouterDropped = bumpCounter(metrics.RouterDropped, prevRouterDropped, rt.Dropped())
			if fecReader != nil {
				prevFECRecovered = bumpCounter(metrics.FECRecovered, prevFECRecovered, fecReader.Recovered())
				prevFECUnrecoverable = bumpCounter(metrics.FECUnrecoverable, prevFECUnrecoverable, fecReader.Unrecoverable())
			}
		}

		f := sess.depkt.Read(packetSamples)
		sess.watchdog.Observe(f)

		if sess.haveWriter {
			ratio, err := mon.Update(sess.writerCursor, sess.depkt.Cursor())
			if err != nil {
				log.Warn("roc-recv: latency monitor declared session dead", zap.Error(err))
				sess.watchdog.Kill()
			} else {
				resampler.SetRatio(ratio)
			}
			if metrics != nil {
				metrics.SessionLatency.WithLabelValues(sess.ssrc).Set(float64(mon.ValueAtQuantile(50)))
				metrics.ActiveSessions.Set(1)
			}
		}

		if sess.watchdog.Dead() {
			if metrics != nil {
				metrics.WatchdogDeaths.Inc()
				metrics.ActiveSessions.Set(0)
			}
			log.Warn("roc-recv: session declared dead, reaping")
			sess.Reap(cfg, log)
			mon.Reset()
			resampler.SetRatio(1.0)
		}

		cycleStart := time.Now()
		mixed := mix.Mix(packetSamples, []frame.Frame{f})
		out := resampler.Process(mixed.Samples)
		prof.EndFrame(packetSamples, time.Since(cycleStart))
		if metrics != nil {
			metrics.MixCPULoad.Set(prof.MovingAvg())
		}

		if err := writeNative(os.Stdout, out, cfg.Format); err != nil {
			return err
		}
	}
}

// bumpCounter advances a monotonic Prometheus counter by the delta
// between two observations of a cumulative total, since the counters
// this binary reads off (router drops, FEC recovery counts) are already
// lifetime totals rather than per-tick events.
func bumpCounter(c prometheus.Counter, prev, cur uint64) uint64 {
	if cur > prev {
		c.Add(float64(cur - prev))
	}
	return cur
}

// newFrameTicker fires once per packet_length, pacing playback to the
// configured sample rate rather than draining the jitter buffer as fast
// as the loop can spin.
func newFrameTicker(sampleRate, packetSamples int) *time.Ticker {
	interval := time.Duration(packetSamples) * time.Second / time.Duration(sampleRate)
	return time.NewTicker(interval)
}

func writeNative(w *os.File, samples []float64, format rtp.SampleFormat) error {
	bps := format.BytesPerSample()
	buf := make([]byte, len(samples)*bps)
	for i, v := range samples {
		switch bps {
		case 2:
			s := v * 32768.0
			if s > 32767 {
				s = 32767
			} else if s < -32768 {
				s = -32768
			}
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(s)))
		case 4:
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
		}
	}
	_, err := w.Write(buf)
	return err
}

// statusResponse is the Data payload of the "status" control op's response.
type statusResponse struct {
	Dropped        uint64 `json:"dropped"`
	WatchdogDead   bool   `json:"watchdog_dead"`
	JitterBufDepth int    `json:"jitter_buffer_depth"`
}

// endpointArgs is the shared Args payload of the endpoint-set ops.
type endpointArgs struct {
	SetID  uint64 `json:"set_id"`
	Proto  string `json:"proto,omitempty"`
	Addr   string `json:"addr,omitempty"`
	Repair bool   `json:"repair,omitempty"`
}

// handleCtlRequest dispatches one control-plane request onto the
// receiver's own task goroutine.
func handleCtlRequest(ctx context.Context, req ctltransport.Request, tasks *task.Pipeline, sess *sessionPipeline, endpoints *endpoint.Table) ctltransport.Response {
	switch req.Op {
	case "ping":
		if err := tasks.SubmitSync(ctx, func() error { return nil }); err != nil {
			return ctltransport.Response{OK: false, Error: err.Error()}
		}
		return ctltransport.Response{OK: true}

	case "status":
		var status statusResponse
		err := tasks.SubmitSync(ctx, func() error {
			status = statusResponse{
				Dropped:        sess.validator.Dropped(),
				WatchdogDead:   sess.watchdog.Dead(),
				JitterBufDepth: sess.jb.Len(),
			}
			return nil
		})
		if err != nil {
			return ctltransport.Response{OK: false, Error: err.Error()}
		}
		data, err := json.Marshal(status)
		if err != nil {
			return ctltransport.Response{OK: false, Error: err.Error()}
		}
		return ctltransport.Response{OK: true, Data: data}

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
