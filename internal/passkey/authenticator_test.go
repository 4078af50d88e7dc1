package passkey

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-webauthn/webauthn/protocol"
)

const (
	testRPID   = "localhost"
	testOrigin = "http://localhost:3000"

	flagUserPresent  = 0x01
	flagAttestedData = 0x40
)

// softAuthenticator is a minimal ES256 platform authenticator.
type softAuthenticator struct {
	t      *testing.T
	key    *ecdsa.PrivateKey
	credID []byte
	origin string
}

func newSoftAuthenticator(t *testing.T) *softAuthenticator {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	credID := make([]byte, 32)
	if _, err := rand.Read(credID); err != nil {
		t.Fatalf("credential id: %v", err)
	}
	return &softAuthenticator{t: t, key: key, credID: credID, origin: testOrigin}
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func (a *softAuthenticator) coseKey() []byte {
	a.t.Helper()
	pub, err := a.key.PublicKey.ECDH()
	if err != nil {
		a.t.Fatalf("ecdh: %v", err)
	}
	raw := pub.Bytes()
	encoded, err := cbor.Marshal(map[int]any{
		1:  2,
		3:  -7,
		-1: 1,
		-2: raw[1:33],
		-3: raw[33:65],
	})
	if err != nil {
		a.t.Fatalf("cose key: %v", err)
	}
	return encoded
}

func (a *softAuthenticator) authData(flags byte, counter uint32, attested bool) []byte {
	rpHash := sha256.Sum256([]byte(testRPID))
	var buf bytes.Buffer
	buf.Write(rpHash[:])
	buf.WriteByte(flags)
	_ = binary.Write(&buf, binary.BigEndian, counter)
	if attested {
		buf.Write(make([]byte, 16))
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(a.credID)))
		buf.Write(a.credID)
		buf.Write(a.coseKey())
	}
	return buf.Bytes()
}

func (a *softAuthenticator) clientData(kind string, challenge protocol.URLEncodedBase64) []byte {
	a.t.Helper()
	raw, err := json.Marshal(map[string]any{
		"type":        kind,
		"challenge":   challenge.String(),
		"origin":      a.origin,
		"crossOrigin": false,
	})
	if err != nil {
		a.t.Fatalf("client data: %v", err)
	}
	return raw
}

// register answers creation options with a "none" attestation.
func (a *softAuthenticator) register(options *protocol.CredentialCreation) []byte {
	a.t.Helper()
	attestation, err := cbor.Marshal(map[string]any{
		"fmt":      "none",
		"attStmt":  map[string]any{},
		"authData": a.authData(flagUserPresent|flagAttestedData, 0, true),
	})
	if err != nil {
		a.t.Fatalf("attestation: %v", err)
	}
	body, err := json.Marshal(map[string]any{
		"id":    b64(a.credID),
		"rawId": b64(a.credID),
		"type":  "public-key",
		"response": map[string]any{
			"clientDataJSON":    b64(a.clientData("webauthn.create", options.Response.Challenge)),
			"attestationObject": b64(attestation),
			"transports":        []string{"internal"},
		},
		"clientExtensionResults": map[string]any{},
	})
	if err != nil {
		a.t.Fatalf("registration body: %v", err)
	}
	return body
}

// assert signs assertion options with the given counter.
func (a *softAuthenticator) assert(options *protocol.CredentialAssertion, userHandle []byte, counter uint32) []byte {
	a.t.Helper()
	authData := a.authData(flagUserPresent, counter, false)
	clientData := a.clientData("webauthn.get", options.Response.Challenge)
	clientHash := sha256.Sum256(clientData)
	signed := append(append([]byte{}, authData...), clientHash[:]...)
	digest := sha256.Sum256(signed)
	signature, err := ecdsa.SignASN1(rand.Reader, a.key, digest[:])
	if err != nil {
		a.t.Fatalf("sign: %v", err)
	}
	body, err := json.Marshal(map[string]any{
		"id":    b64(a.credID),
		"rawId": b64(a.credID),
		"type":  "public-key",
		"response": map[string]any{
			"clientDataJSON":    b64(clientData),
			"authenticatorData": b64(authData),
			"signature":         b64(signature),
			"userHandle":        b64(userHandle),
		},
		"clientExtensionResults": map[string]any{},
	})
	if err != nil {
		a.t.Fatalf("assertion body: %v", err)
	}
	return body
}
