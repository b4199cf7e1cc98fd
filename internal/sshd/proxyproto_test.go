package sshd

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"net"
	"testing"
)

func buildProxyV2Header(t *testing.T, cmd byte, famProto byte, addr []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(proxyV2Signature)
	buf.WriteByte(0x20 | cmd) // version 2, given command
	buf.WriteByte(famProto)
	length := make([]byte, 2)
	binary.BigEndian.PutUint16(length, uint16(len(addr)))
	buf.Write(length)
	buf.Write(addr)
	return buf.Bytes()
}

func TestParseProxyHeaderV2TCP4(t *testing.T) {
	// src addr (4) + dst addr (4) + src port (2) + dst port (2)
	addr := append(net.ParseIP("203.0.113.7").To4(), append(net.ParseIP("10.0.0.1").To4(), 0, 80, 0, 22)...)
	header := buildProxyV2Header(t, proxyV2CmdProxy, proxyV2FamTCP4, addr)

	ip, isLocal, err := ParseProxyHeaderV2(bufio.NewReader(bytes.NewReader(header)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isLocal {
		t.Fatalf("expected a PROXY command, not LOCAL")
	}
	if !ip.Equal(net.ParseIP("203.0.113.7")) {
		t.Fatalf("expected source ip 203.0.113.7, got %s", ip)
	}
}

func TestParseProxyHeaderV2Local(t *testing.T) {
	header := buildProxyV2Header(t, proxyV2CmdLocal, 0x00, nil)

	_, isLocal, err := ParseProxyHeaderV2(bufio.NewReader(bytes.NewReader(header)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isLocal {
		t.Fatalf("expected a LOCAL command")
	}
}

func TestParseProxyHeaderV2RejectsBadSignature(t *testing.T) {
	bad := make([]byte, 16)
	_, _, err := ParseProxyHeaderV2(bufio.NewReader(bytes.NewReader(bad)))
	if err == nil {
		t.Fatalf("expected bad signature to be rejected")
	}
}

func TestParseProxyHeaderV2RejectsTruncated(t *testing.T) {
	_, _, err := ParseProxyHeaderV2(bufio.NewReader(bytes.NewReader(proxyV2Signature[:5])))
	if err == nil {
		t.Fatalf("expected truncated header to be rejected")
	}
}

func TestIsTrustedProxyMatchesCIDR(t *testing.T) {
	if !isTrustedProxy(net.ParseIP("10.1.2.3"), []string{"10.0.0.0/8"}) {
		t.Fatalf("expected 10.1.2.3 to match 10.0.0.0/8")
	}
	if isTrustedProxy(net.ParseIP("192.168.1.1"), []string{"10.0.0.0/8"}) {
		t.Fatalf("expected 192.168.1.1 not to match 10.0.0.0/8")
	}
}
