// Command rasta-echo drives one RaSTA SR connection over a loopback
// transport and echoes every accepted DATA payload back to the peer,
// wiring together the engine, codec, buffers, diagnostics, notification
// sink and in-process channel the way a real host's tick loop would: a
// non-blocking receive pipeline, the transmission pipeline, and the
// heartbeat predicate, all driven by a simple poll loop. The UDP
// channel and the timeout predicate are not used.
package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/railsafe/gorasta"
	_ "github.com/railsafe/gorasta/pkg/channel/memchannel"
	"github.com/railsafe/gorasta/pkg/config"
	"github.com/railsafe/gorasta/pkg/notify"
	"github.com/railsafe/gorasta/pkg/srcor"
	"github.com/railsafe/gorasta/pkg/srmsg"
	"github.com/railsafe/gorasta/pkg/sysadapter"
)

func main() {
	configPath := flag.String("config", "", "path to a RaSTA ini configuration file; if empty, a built-in default is used")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	sys := sysadapter.NewReal(10)
	sink := notify.NewSlogSink(logger)

	fatalCh := make(chan *gorasta.FatalError, 1)
	fatal := func(err *gorasta.FatalError) {
		logger.Error("fatal error", "code", err.Code, "message", err.Msg)
		select {
		case fatalCh <- err:
		default:
		}
	}

	client := srcor.NewEngine(sys, fatal, sink, "mem")
	server := srcor.NewEngine(sys, fatal, sink, "mem")

	if err := client.Init(cfg); err != nil {
		logger.Error("initializing client engine", "error", err)
		os.Exit(1)
	}
	if err := server.Init(serverSideConfig(cfg)); err != nil {
		logger.Error("initializing server engine", "error", err)
		os.Exit(1)
	}

	clientConn, err := client.Connection(0)
	if err != nil {
		logger.Error("client connection", "error", err)
		os.Exit(1)
	}
	serverConn, err := server.Connection(0)
	if err != nil {
		logger.Error("server connection", "error", err)
		os.Exit(1)
	}

	if err := client.InitConnectionData(clientConn); err != nil {
		logger.Error("client InitConnectionData", "error", err)
		os.Exit(1)
	}
	if err := server.InitConnectionData(serverConn); err != nil {
		logger.Error("server InitConnectionData", "error", err)
		os.Exit(1)
	}

	clientConn.SendConnReqMessage()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	logger.Info("rasta-echo running", "t_max", cfg.TMax, "t_h", cfg.TH)

	for {
		select {
		case <-ticker.C:
			tick(clientConn, "client", logger)
			tick(serverConn, "server", logger)
		case fatalErr := <-fatalCh:
			logger.Error("stopping on fatal error", "code", fatalErr.Code)
			return
		}
	}
}

// tick runs one poll of a connection's receive pipeline, echoing any
// accepted DATA payload straight back to the peer. main runs it for
// both the client and the server connection, so both sides echo.
func tick(conn *srcor.Connection, role string, logger *slog.Logger) {
	event, snInSeq, ctsInSeq := conn.ReceiveMessage()
	if event == srcor.EventNone {
		return
	}
	logger.Debug("received event", "role", role, "event", event, "sn_in_seq", snInSeq, "cts_in_seq", ctsInSeq)

	if !conn.ProcessReceivedMessage() {
		logger.Warn("timeliness check failed", "role", role)
		return
	}

	if event == srcor.EventDataReceived || event == srcor.EventRetrDataReceived {
		payload, err := conn.ReceiveBuffer().Read()
		if err == nil {
			_ = conn.SendDataMessage(payload)
		}
	}

	if event == srcor.EventRetrReqReceived {
		conn.HandleRetrReq()
	}

	if conn.IsHeartbeatInterval() {
		conn.SendHbMessage()
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadINI(path)
	}
	return config.New(config.Config{
		NetworkID:                1,
		TMax:                     750,
		TH:                       300,
		SafetyCodeType:           srmsg.SafetyCodeLowerMd4,
		MWA:                      10,
		NSendMax:                 20,
		NMaxPacket:               1,
		NDiagWindow:              1000,
		MD4InitialValue:          [4]uint32{0x67452301, 0xEFCDAB89, 0x98BADCFE, 0x10325476},
		DiagTimingDistrIntervals: [4]uint32{100, 200, 300, 750},
		Connections: []config.ConnectionConfig{
			{Name: "loopback", SenderID: 0x61, ReceiverID: 0x62, NetworkID: 1},
		},
	})
}

// serverSideConfig mirrors cfg with sender/receiver swapped, so the
// demo's two engines address each other correctly.
func serverSideConfig(cfg *config.Config) *config.Config {
	swapped := *cfg
	swapped.Connections = make([]config.ConnectionConfig, len(cfg.Connections))
	for i, cc := range cfg.Connections {
		swapped.Connections[i] = config.ConnectionConfig{
			Name: cc.Name, SenderID: cc.ReceiverID, ReceiverID: cc.SenderID, NetworkID: cc.NetworkID,
		}
	}
	out, err := config.New(swapped)
	if err != nil {
		panic(err)
	}
	return out
}
