package provision

import (
	"encoding/base64"
	"fmt"
	"net/url"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	linkScheme = "sgnl"
	linkHost   = "linkdevice"
)

// LinkRequest is the content of a device-link URI: the new device's
// ephemeral identifier and its public provisioning key.
type LinkRequest struct {
	DeviceUUID string
	PubKey     []byte
}

// URI renders the request as a scannable device-link URI.
func (r *LinkRequest) URI() string {
	q := url.Values{}
	q.Set("uuid", r.DeviceUUID)
	q.Set("pub_key", base64.RawURLEncoding.EncodeToString(r.PubKey))
	u := url.URL{Scheme: linkScheme, Host: linkHost, RawQuery: q.Encode()}
	return u.String()
}

// ParseURI parses a device-link URI produced by a new device waiting to be
// linked.
func ParseURI(raw string) (*LinkRequest, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse link uri: %w", err)
	}
	if u.Scheme != linkScheme || u.Host != linkHost {
		return nil, fmt.Errorf("not a device link uri: %q", raw)
	}
	q := u.Query()
	deviceUUID := q.Get("uuid")
	if deviceUUID == "" {
		return nil, fmt.Errorf("device link uri missing uuid")
	}
	pubKey, err := base64.RawURLEncoding.DecodeString(q.Get("pub_key"))
	if err != nil {
		return nil, fmt.Errorf("device link uri pub_key: %w", err)
	}
	if len(pubKey) == 0 {
		return nil, fmt.Errorf("device link uri missing pub_key")
	}
	return &LinkRequest{DeviceUUID: deviceUUID, PubKey: pubKey}, nil
}

// QRPNG renders a device-link URI as a PNG QR code of the given pixel size.
func QRPNG(uri string, size int) ([]byte, error) {
	png, err := qrcode.Encode(uri, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
