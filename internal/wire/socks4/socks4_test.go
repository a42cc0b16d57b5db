package socks4

import (
	"bytes"
	"net"
	"testing"

	"github.com/proxyworks/tunelo/internal/hostaddr"
)

func TestRequest_BytesAndReadRequest_SocketForm(t *testing.T) {
	req := Request{
		Command:     CmdConnect,
		Destination: hostaddr.NewSocket(net.IPv4(93, 184, 216, 34), 80),
		ID:          []byte("user1"),
	}

	// ReadRequest expects the dispatcher to have consumed the version byte.
	got, err := ReadRequest(bytes.NewReader(req.Bytes()[1:]))
	if err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}
	if got.Command != CmdConnect {
		t.Errorf("Command = %#x, want CmdConnect", got.Command)
	}
	if got.Destination.Kind() != hostaddr.KindSocket {
		t.Fatalf("Destination.Kind() = %v, want KindSocket", got.Destination.Kind())
	}
	if !got.Destination.IP().Equal(net.IPv4(93, 184, 216, 34)) {
		t.Errorf("Destination.IP() = %v, want 93.184.216.34", got.Destination.IP())
	}
	if got.Destination.Port() != 80 {
		t.Errorf("Destination.Port() = %d, want 80", got.Destination.Port())
	}
	if string(got.ID) != "user1" {
		t.Errorf("ID = %q, want %q", got.ID, "user1")
	}
}

func TestRequest_BytesAndReadRequest_DomainForm(t *testing.T) {
	req := Request{
		Command:     CmdConnect,
		Destination: hostaddr.NewDomain("example.com", 443),
		ID:          []byte("anon"),
	}

	got, err := ReadRequest(bytes.NewReader(req.Bytes()[1:]))
	if err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}
	if got.Destination.Kind() != hostaddr.KindDomain {
		t.Fatalf("Destination.Kind() = %v, want KindDomain", got.Destination.Kind())
	}
	if got.Destination.Domain() != "example.com" {
		t.Errorf("Destination.Domain() = %q, want %q", got.Destination.Domain(), "example.com")
	}
	if got.Destination.Port() != 443 {
		t.Errorf("Destination.Port() = %d, want 443", got.Destination.Port())
	}
}

func TestRequest_InvalidCommand(t *testing.T) {
	raw := []byte{0x99, 0x00, 0x50, 127, 0, 0, 1, 0x00}
	if _, err := ReadRequest(bytes.NewReader(raw)); err != ErrInvalidCommand {
		t.Errorf("ReadRequest() error = %v, want ErrInvalidCommand", err)
	}
}

func TestReply_GrantedRoundTrip(t *testing.T) {
	rep := Granted(net.IPv4(10, 0, 0, 1), 1080)
	got, err := ReadReply(bytes.NewReader(rep.Bytes()))
	if err != nil {
		t.Fatalf("ReadReply() error = %v", err)
	}
	if !got.Ok() {
		t.Error("Ok() = false, want true for Granted")
	}
	if got.Port != 1080 {
		t.Errorf("Port = %d, want 1080", got.Port)
	}
}

func TestReply_RejectedIsNotOk(t *testing.T) {
	rep := Rejected(net.IPv4zero, 0)
	got, err := ReadReply(bytes.NewReader(rep.Bytes()))
	if err != nil {
		t.Fatalf("ReadReply() error = %v", err)
	}
	if got.Ok() {
		t.Error("Ok() = true, want false for Rejected")
	}
}

func TestReadReply_BadVersionByte(t *testing.T) {
	raw := []byte{0x04, ReplyGranted, 0x00, 0x50, 127, 0, 0, 1}
	if _, err := ReadReply(bytes.NewReader(raw)); err != ErrBadReply {
		t.Errorf("ReadReply() error = %v, want ErrBadReply", err)
	}
}
