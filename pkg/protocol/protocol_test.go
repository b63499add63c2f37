package protocol

import (
	"bytes"
	"testing"
)

func TestControlPacketRoundTrip(t *testing.T) {
	sid, err := GenerateStreamID()
	if err != nil {
		t.Fatalf("GenerateStreamID: %v", err)
	}

	cases := []*ControlPacket{
		NewInitPacket(sid),
		NewDataPacket(sid, []byte("GET / HTTP/1.1\r\n\r\n")),
		NewDataPacket(sid, nil),
		NewRefusedPacket(sid),
		NewEndPacket(sid),
		NewPingPacket(nil),
		NewPingPacket(&ReconnectToken{Token: "abc123"}),
	}

	for _, p := range cases {
		encoded := EncodeControlPacket(p)
		decoded, err := DecodeControlPacket(encoded)
		if err != nil {
			t.Fatalf("decode %v: %v", p.Type, err)
		}
		if decoded.Type != p.Type {
			t.Fatalf("type mismatch: got %v want %v", decoded.Type, p.Type)
		}
		if p.Type != PacketPing && decoded.StreamID != p.StreamID {
			t.Fatalf("stream id mismatch for %v", p.Type)
		}
		if p.Type == PacketData && !bytes.Equal(decoded.Data, p.Data) {
			t.Fatalf("data mismatch: got %q want %q", decoded.Data, p.Data)
		}
		if p.Type == PacketPing {
			if (decoded.Token == nil) != (p.Token == nil) {
				t.Fatalf("ping token presence mismatch")
			}
			if p.Token != nil && decoded.Token.Token != p.Token.Token {
				t.Fatalf("ping token mismatch: got %q want %q", decoded.Token.Token, p.Token.Token)
			}
		}
	}
}

func TestDecodeControlPacketTooShort(t *testing.T) {
	for _, data := range [][]byte{nil, {0x01}, {0x01, 0, 0, 0, 0, 0, 0, 0}} {
		if _, err := DecodeControlPacket(data); err == nil {
			t.Fatalf("expected error for short frame %v", data)
		}
	}
}

func TestDecodeControlPacketUnknownTag(t *testing.T) {
	frame := append([]byte{0xFF}, make([]byte, 8)...)
	if _, err := DecodeControlPacket(frame); err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestPingWireSentinels(t *testing.T) {
	noToken := EncodeControlPacket(NewPingPacket(nil))
	if noToken[1] != 0x0F || noToken[8] != 0x00 {
		t.Fatalf("unexpected no-token ping sentinel: % x", noToken[:9])
	}
	withToken := EncodeControlPacket(NewPingPacket(&ReconnectToken{Token: "x"}))
	if withToken[1] != 0x0F || withToken[8] != 0x01 {
		t.Fatalf("unexpected token ping sentinel: % x", withToken[:9])
	}
}

func TestValidateSubDomain(t *testing.T) {
	valid := []string{"a", "my-app", "abc123", "a-b-c"}
	for _, v := range valid {
		if err := ValidateSubDomain(v); err != nil {
			t.Errorf("expected %q to be valid, got %v", v, err)
		}
	}

	invalid := []string{"", "-leading", "trailing-", "Has-Upper", "has_underscore", "has space"}
	for _, v := range invalid {
		if err := ValidateSubDomain(v); err == nil {
			t.Errorf("expected %q to be invalid", v)
		}
	}
}

func TestSecretKeyClientIDStable(t *testing.T) {
	key := &SecretKey{Key: "abcdefghij0123456789ZZ"}
	id1 := key.ClientIDFromKey()
	id2 := key.ClientIDFromKey()
	if id1 != id2 {
		t.Fatalf("expected deterministic client id, got %q and %q", id1, id2)
	}
}

func TestGenerateRandomSubDomainShapeAndEntropy(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		sub, err := GenerateRandomSubDomain()
		if err != nil {
			t.Fatalf("GenerateRandomSubDomain: %v", err)
		}
		if err := ValidateSubDomain(sub); err != nil {
			t.Fatalf("generated subdomain %q failed validation: %v", sub, err)
		}
		seen[sub] = true
	}
	if len(seen) < 15 {
		t.Fatalf("expected high entropy subdomains, got %d unique of 20", len(seen))
	}
}
