package referral

import (
	"fmt"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const defaultInviteBaseURL = "http://localhost:3000"

// InviteLinks builds shareable registration links for invite codes.
type InviteLinks struct {
	baseURL string
}

// NewInviteLinks creates an InviteLinks rooted at baseURL.
func NewInviteLinks(baseURL string) *InviteLinks {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultInviteBaseURL
	}
	return &InviteLinks{baseURL: base}
}

// Link returns the registration URL carrying code.
func (l *InviteLinks) Link(code string) string {
	return fmt.Sprintf("%s/register?ref=%s", l.baseURL, url.QueryEscape(strings.TrimSpace(code)))
}

// QRCode renders the invite link as a 256px PNG.
func (l *InviteLinks) QRCode(code string) ([]byte, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("invite code is empty")
	}
	png, err := qrcode.Encode(l.Link(code), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to encode invite qr code: %w", err)
	}
	return png, nil
}
