// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Command deadlineqdemo drives deadline-aware scheduling over a real
// kcp-go/smux transport, in either client or server role, against a
// scenario described in a JSON config file. It exists to exercise the
// deadline package end to end rather than to be a production tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"github.com/xtaci/smux"

	"github.com/tjohn327/deadlineq/deadline"
	"github.com/tjohn327/deadlineq/hostconn"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

// StreamScenario describes one stream the demo opens and feeds, mirroring
// the "concrete scenarios" format used to ground the deadline package's
// own test suite.
type StreamScenario struct {
	StreamID   uint64 `json:"stream_id"`
	Bytes      int    `json:"bytes"`
	DeadlineMS uint64 `json:"deadline_ms"`
	Class      string `json:"class"` // "hard", "soft", or "" for no deadline
}

// Config is the demo's scenario file, loaded with parseJSONConfig in the
// same style server/config.go uses for kcptun's own config file.
type Config struct {
	LocalAddr  string `json:"localaddr"`
	RemoteAddr string `json:"remoteaddr"`

	MinNonDeadlineShare float64 `json:"min_non_deadline_share"`
	MaxStarvationMS     int64   `json:"max_starvation_ms"`
	ConnWindow          uint64  `json:"conn_window_bytes"`
	StreamWindow        uint64  `json:"stream_window_bytes"`
	BaseRateBytesSec    float64 `json:"base_rate_bytes_sec"`

	Streams []StreamScenario `json:"streams"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "parseJSONConfig")
	}
	defer file.Close()
	return errors.Wrap(json.NewDecoder(file).Decode(config), "parseJSONConfig")
}

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "deadlineqdemo"
	myApp.Usage = "deadline-aware stream scheduling demo over kcp-go/smux"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "mode",
			Value: "client",
			Usage: "client or server",
		},
		cli.StringFlag{
			Name:  "localaddr,l",
			Value: ":29900",
			Usage: "server listen address (server mode) or unused (client mode)",
		},
		cli.StringFlag{
			Name:  "remoteaddr,r",
			Value: "127.0.0.1:29900",
			Usage: "server address to dial (client mode)",
		},
		cli.IntFlag{
			Name:  "datashard,ds",
			Value: 10,
			Usage: "reed-solomon erasure coding - datashard",
		},
		cli.IntFlag{
			Name:  "parityshard,ps",
			Value: 3,
			Usage: "reed-solomon erasure coding - parityshard",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "scenario config from json file",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{
			LocalAddr:           c.String("localaddr"),
			RemoteAddr:          c.String("remoteaddr"),
			MinNonDeadlineShare: deadline.DefaultMinNonDeadlineShare,
			MaxStarvationMS:     deadline.DefaultMaxStarvationUS / 1000,
			ConnWindow:          1 << 24,
			StreamWindow:        1 << 20,
			BaseRateBytesSec:    8 << 20,
		}
		if c.String("c") != "" {
			if err := parseJSONConfig(&config, c.String("c")); err != nil {
				log.Fatalf("%+v", err)
			}
		}

		log.Println("version:", VERSION)
		log.Println("mode:", c.String("mode"))
		log.Println("min_non_deadline_share:", config.MinNonDeadlineShare)
		log.Println("max_starvation_ms:", config.MaxStarvationMS)
		log.Println("conn_window_bytes:", config.ConnWindow)
		log.Println("stream_window_bytes:", config.StreamWindow)
		log.Println("base_rate_bytes_sec:", config.BaseRateBytesSec)

		dataShard := c.Int("datashard")
		parityShard := c.Int("parityshard")

		switch c.String("mode") {
		case "server":
			return runServer(config, dataShard, parityShard)
		case "client":
			return runClient(config, dataShard, parityShard)
		default:
			color.Red("unknown mode %q, want client or server", c.String("mode"))
			os.Exit(-1)
			return nil
		}
	}
	myApp.Run(os.Args)
}

func newSmuxConfig() *smux.Config {
	cfg := smux.DefaultConfig()
	cfg.KeepAliveInterval = 10 * time.Second
	return cfg
}

func runServer(config Config, dataShard, parityShard int) error {
	l, err := hostconn.Listen(config.LocalAddr, nil, dataShard, parityShard)
	if err != nil {
		return errors.Wrap(err, "runServer")
	}
	log.Println("listening on:", l.Addr())

	kcpConn, session, err := hostconn.Accept(l, newSmuxConfig())
	if err != nil {
		return errors.Wrap(err, "runServer: accept")
	}
	log.Println("accepted session from:", kcpConn.RemoteAddr())

	conn := hostconn.NewConn(kcpConn, session, true, config.ConnWindow, config.StreamWindow, config.BaseRateBytesSec)
	conn.Core.SetFairnessParams(config.MinNonDeadlineShare, config.MaxStarvationMS*1000)
	conn.Core.RegisterDeadlineMissedCallback(func(streamID uint64) {
		color.Yellow("deadline missed: stream %d", streamID)
	})

	if err := conn.AcceptControlStream(); err != nil {
		return errors.Wrap(err, "runServer: control stream")
	}
	go func() {
		if err := conn.ControlLoop(nowMicros); err != nil {
			log.Println("control loop ended:", err)
		}
	}()

	recv := &loggingReceiver{}
	for {
		st, dstream, err := conn.AcceptStream()
		if err != nil {
			return errors.Wrap(err, "runServer: accept stream")
		}
		go func() {
			if err := conn.ReadLoop(st, dstream, recv); err != nil {
				log.Println("read loop ended:", err)
			}
		}()
	}
}

func runClient(config Config, dataShard, parityShard int) error {
	kcpConn, session, err := hostconn.Dial(config.RemoteAddr, nil, dataShard, parityShard, newSmuxConfig())
	if err != nil {
		return errors.Wrap(err, "runClient")
	}
	log.Println("connected:", kcpConn.LocalAddr(), "->", kcpConn.RemoteAddr())

	conn := hostconn.NewConn(kcpConn, session, true, config.ConnWindow, config.StreamWindow, config.BaseRateBytesSec)
	conn.Core.SetFairnessParams(config.MinNonDeadlineShare, config.MaxStarvationMS*1000)
	conn.Core.RegisterDeadlineMissedCallback(func(streamID uint64) {
		color.Yellow("deadline missed: stream %d", streamID)
	})

	if err := conn.OpenControlStream(); err != nil {
		return errors.Wrap(err, "runClient: control stream")
	}

	for _, sc := range config.Streams {
		st, dstream, err := conn.OpenStream()
		if err != nil {
			return errors.Wrap(err, "runClient: open stream")
		}
		if st.ID() != uint32(sc.StreamID) && sc.StreamID != 0 {
			log.Printf("note: scenario stream_id %d ignored, smux assigned %d", sc.StreamID, st.ID())
		}
		id := uint64(st.ID())

		if sc.DeadlineMS > 0 {
			class := deadline.Soft
			if sc.Class == "hard" {
				class = deadline.Hard
			}
			if _, err := conn.Core.SetStreamDeadline(id, sc.DeadlineMS, class, nowMicros()); err != nil {
				return errors.Wrap(err, "runClient: set deadline")
			}
		}

		payload := make([]byte, sc.Bytes)
		dstream.Enqueue(payload, nil, nowMicros())
		color.Green("stream %d: queued %d bytes, deadline_ms=%d class=%s", id, sc.Bytes, sc.DeadlineMS, sc.Class)
	}

	ctx := context.Background()
	for {
		progressed, err := conn.Tick(ctx, nowMicros())
		if err != nil {
			return errors.Wrap(err, "runClient: tick")
		}
		if !progressed {
			time.Sleep(time.Millisecond)
		}
	}
}

func nowMicros() int64 {
	return time.Now().UnixMicro()
}

// loggingReceiver implements deadline.Receiver for the demo, printing a
// line for each event instead of reassembling application data.
type loggingReceiver struct{}

func (r *loggingReceiver) StreamData(streamID uint64, data []byte) {
	fmt.Printf("stream %d: received %d bytes\n", streamID, len(data))
}

func (r *loggingReceiver) StreamGap(streamID uint64, length uint64) {
	color.Yellow("stream %d: gap of %d bytes", streamID, length)
}

func (r *loggingReceiver) StreamFin(streamID uint64) {
	log.Println("stream", streamID, "finished")
}

func (r *loggingReceiver) StreamReset(streamID uint64, errorCode uint64) {
	color.Red("stream %d: reset, code=%d", streamID, errorCode)
}
