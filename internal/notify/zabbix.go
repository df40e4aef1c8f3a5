package notify

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-voiceagent/internal/util"
)

// DefaultZabbixPort is the trapper port used when none is configured.
const DefaultZabbixPort = 10051

// Zabbix protocol constants.
const (
	zabbixTimeout    = 5 * time.Second
	zabbixHeaderSize = 13        // "ZBXD\x01" (5) + uint64 length (8)
	maxReplySize     = 64 * 1024 // 64KB max reply to prevent memory exhaustion
)

// zabbixMagic is the protocol header prefix.
var zabbixMagic = [5]byte{'Z', 'B', 'X', 'D', 0x01}

// Zabbix protocol types.
type zabbixRequest struct {
	Request string       `json:"request"`
	Data    []zabbixItem `json:"data"`
}

type zabbixItem struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type zabbixResponse struct {
	Response string `json:"response"`
	Info     string `json:"info"`
}

// sendZabbixPayload sends a payload to the Zabbix server.
func sendZabbixPayload(server string, port int, timeout time.Duration, payload zabbixRequest) error {
	addr := net.JoinHostPort(server, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return util.WrapError("connect to zabbix", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return util.WrapError("set deadline", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal zabbix payload", err)
	}

	// Build header: "ZBXD\x01" + 8-byte little endian length
	header := make([]byte, zabbixHeaderSize)
	copy(header[0:5], zabbixMagic[:])
	binary.LittleEndian.PutUint64(header[5:], uint64(len(data)))

	if _, err := conn.Write(header); err != nil {
		return util.WrapError("write zabbix header", err)
	}
	if _, err := conn.Write(data); err != nil {
		return util.WrapError("write zabbix payload", err)
	}

	// Read reply header
	replyHeader := make([]byte, zabbixHeaderSize)
	if _, err := io.ReadFull(conn, replyHeader); err != nil {
		return util.WrapError("read zabbix reply header", err)
	}
	if !bytes.Equal(replyHeader[0:5], zabbixMagic[:]) {
		return fmt.Errorf("invalid zabbix reply header")
	}

	replyLen := binary.LittleEndian.Uint64(replyHeader[5:zabbixHeaderSize])
	if replyLen == 0 {
		return fmt.Errorf("empty zabbix reply")
	}
	if replyLen > maxReplySize {
		return fmt.Errorf("zabbix reply too large: %d bytes (max %d)", replyLen, maxReplySize)
	}

	// Read reply body
	reply := make([]byte, replyLen)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return util.WrapError("read zabbix reply body", err)
	}

	var resp zabbixResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return util.WrapError("parse zabbix reply", err)
	}

	// Check for explicit failure response
	if resp.Response == "failed" {
		return fmt.Errorf("zabbix rejected data: %s", resp.Info)
	}

	// Check for no items processed (host/key not found in Zabbix)
	if strings.Contains(resp.Info, "processed: 0;") && strings.Contains(resp.Info, "failed: 0;") {
		return fmt.Errorf("zabbix processed no items (check host/key config)")
	}

	return nil
}

// ZabbixTarget addresses one trapper item.
type ZabbixTarget struct {
	Server  string
	Port    int
	Host    string
	Key     string
	Timeout time.Duration
}

// configured reports whether the target has the fields a send needs.
func (t ZabbixTarget) configured() bool {
	return util.IsConfigured(t.Server, t.Host, t.Key)
}

// sendZabbixValue sends one value to the trapper item.
func sendZabbixValue(t ZabbixTarget, value string) error {
	if !t.configured() {
		return nil
	}
	port := t.Port
	if port == 0 {
		port = DefaultZabbixPort
	}
	req := zabbixRequest{
		Request: "sender data",
		Data:    []zabbixItem{{Host: t.Host, Key: t.Key, Value: value}},
	}
	return sendZabbixPayload(t.Server, port, cmp.Or(t.Timeout, zabbixTimeout), req)
}

// zabbixValue renders an event as a single key=value line.
func zabbixValue(e *Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "event=%s", strings.ToUpper(e.Name))
	if e.SessionID != "" {
		fmt.Fprintf(&b, " session=%s reconnects=%d", e.SessionID, e.Reconnects)
	}
	if e.Threshold != 0 || e.SoilMoisture != 0 {
		fmt.Fprintf(&b, " soil_moisture=%.1f threshold=%.1f", e.SoilMoisture, e.Threshold)
	}
	return b.String()
}

// SendZabbix sends an event to Zabbix. An unconfigured target is a no-op.
func SendZabbix(t ZabbixTarget, e *Event) error {
	return sendZabbixValue(t, zabbixValue(e))
}

// SendTestZabbix sends a test message to verify Zabbix config.
func SendTestZabbix(t ZabbixTarget) error {
	if !t.configured() {
		return fmt.Errorf("zabbix server, host and key are required")
	}
	return sendZabbixValue(t, "event=TEST source=zwfm-voiceagent")
}
