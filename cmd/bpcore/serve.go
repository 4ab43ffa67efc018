package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/DeRuina/timberjack"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/bpcore/flowproxy/bsocket"
	"github.com/bpcore/flowproxy/config"
	"github.com/bpcore/flowproxy/fastcgi"
	"github.com/bpcore/flowproxy/httpclient"
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/sink"
	"github.com/bpcore/flowproxy/istream/source"
	"github.com/bpcore/flowproxy/pool"
	"github.com/bpcore/flowproxy/trace"
)

func newServeCommand() *cobra.Command {
	var configPath string
	var upstreamOverride string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to one upstream and run a single demonstration request through it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if upstreamOverride != "" {
				cfg.Upstream.Address = upstreamOverride
			}
			return runDemo(cfg, newLogger(cfg))
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a .yaml/.yml/.toml config file")
	cmd.Flags().StringVar(&upstreamOverride, "upstream", "", "override upstream.address from the config")
	return cmd
}

// newLogger builds a zap.Logger colorized only when stdout is an
// attached terminal, matching the teacher's own console-encoder
// terminal detection. When cfg.Log.File is set, a timberjack rotating
// writer receives the same entries JSON-encoded (stdout keeps the
// console encoder), the teacher's analogue of lumberjack-backed
// CustomLog file sinks.
func newLogger(cfg config.Config) *zap.Logger {
	level := zap.InfoLevel
	_ = level.UnmarshalText([]byte(cfg.Log.Level))

	encoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg := encoderCfg
	if term.IsTerminal(int(os.Stdout.Fd())) {
		consoleEncoderCfg.EncodeLevel = zapColoredLevel
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderCfg), zapcore.Lock(os.Stdout), level),
	}
	if cfg.Log.File != "" {
		rotator := &timberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    100,
			MaxAge:     28,
			MaxBackups: 7,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotator), level))
	}
	return zap.New(zapcore.NewTee(cores...))
}

func runDemo(cfg config.Config, log *zap.Logger) error {
	defer log.Sync()

	conn, err := net.DialTimeout("tcp", cfg.Upstream.Address, time.Duration(cfg.Timeouts.Connect))
	if err != nil {
		return fmt.Errorf("dial upstream: %w", err)
	}
	sock := bsocket.New(conn, log)
	sock.SetTimeouts(time.Duration(cfg.Timeouts.Idle), time.Duration(cfg.Timeouts.Idle))

	lease := pool.LeaseFunc(func(action pool.ReleaseAction) {
		log.Debug("connection lease released", zap.Bool("reuse", action == pool.Reuse))
		if action == pool.Destroy {
			sock.Close()
		}
	})

	done := make(chan error, 1)

	switch cfg.Upstream.Kind {
	case config.UpstreamFastCGI:
		runFastCGIDemo(sock, log, lease, done)
	default:
		runHTTPDemo(sock, log, lease, done)
	}

	select {
	case err := <-done:
		return err
	case <-time.After(time.Duration(cfg.Timeouts.Idle) + time.Duration(cfg.Timeouts.Connect)):
		return fmt.Errorf("demo request timed out")
	}
}

type demoBody struct {
	status  int
	headers map[string]string
	stream  istream.Stream
	done    chan error
	log     *zap.Logger
}

func (d *demoBody) drain() {
	buf := make([]byte, 0, 4096)
	drainSink := newCollectSink(d.stream, func(data []byte) {
		buf = append(buf, data...)
	}, func(err error) {
		fmt.Printf("--- status %d ---\n", d.status)
		for k, v := range d.headers {
			fmt.Printf("%s: %s\n", k, v)
		}
		fmt.Println()
		os.Stdout.Write(buf)
		d.done <- err
	})
	for drainSink.Result() == sink.Pending {
		drainSink.Read()
	}
}

func runFastCGIDemo(sock *bsocket.BufferedSocket, log *zap.Logger, lease pool.Lease, done chan error) {
	client := fastcgi.New(sock, log, 1)
	client.SetLease(lease)
	_, watch := trace.Start(context.Background(), "fastcgi demo request")
	client.SetStopwatch(watch)
	meta := fastcgi.RequestMeta{
		Method:         "GET",
		RequestURI:     "/",
		ScriptFilename: "/index.php",
		DocumentRoot:   "/var/www",
		ServerSoftware: "bpcore",
		ContentLength:  -1,
	}
	handler := &fastcgiDemoHandler{done: done, log: log}
	client.Send(meta, source.NewString(""), false, handler)
}

type fastcgiDemoHandler struct {
	done chan error
	log  *zap.Logger
}

func (h *fastcgiDemoHandler) OnResponse(status int, headers map[string]string, body istream.Stream) {
	d := &demoBody{status: status, headers: headers, stream: body, done: h.done, log: h.log}
	d.drain()
}

func (h *fastcgiDemoHandler) OnError(err error) { h.done <- err }

func runHTTPDemo(sock *bsocket.BufferedSocket, log *zap.Logger, lease pool.Lease, done chan error) {
	client := httpclient.New(sock, log)
	client.SetLease(lease)
	_, watch := trace.Start(context.Background(), "http demo request")
	client.SetStopwatch(watch)
	req := httpclient.Request{
		Method:        "GET",
		URI:           "/",
		Headers:       map[string]string{"Host": sock.Conn().RemoteAddr().String(), "User-Agent": "bpcore-demo"},
		Body:          source.NewString(""),
		ContentLength: 0,
	}
	handler := &httpDemoHandler{done: done, log: log}
	client.Send(req, false, handler)
}

type httpDemoHandler struct {
	done chan error
	log  *zap.Logger
}

func (h *httpDemoHandler) OnStatus(status int, headers map[string]string, body istream.Stream) {
	d := &demoBody{status: status, headers: headers, stream: body, done: h.done, log: h.log}
	d.drain()
}

func (h *httpDemoHandler) OnError(err error) { h.done <- err }
