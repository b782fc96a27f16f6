package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// blockedNetworks はアバターURLとして受け付けないアドレス範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16", // クラウドメタデータ (169.254.169.254) を含む
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// AvatarGuard はプロフィール画像URLが公開されたhttps画像を指しているかを検証する。
// 取得はsafeurlのクライアントで行い、DNS解決後のアドレスも検査される。
type AvatarGuard struct {
	client   *http.Client
	maxSize  int64
	validate func(rawURL string) error
}

// NewAvatarGuard はAvatarGuardを生成する。
func NewAvatarGuard(timeout time.Duration, maxSize int64) *AvatarGuard {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return &AvatarGuard{
		client:   safeurl.Client(config).Client,
		maxSize:  maxSize,
		validate: ValidateAvatarURL,
	}
}

// ValidateAvatarURL はDNS解決を伴わない静的な検証を行う。
func ValidateAvatarURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("only https URLs are allowed")
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("missing host")
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, n := range blockedNetworks {
			if n.Contains(ip) {
				return fmt.Errorf("blocked address: %s", ip)
			}
		}
	}
	return nil
}

// Verify はURLを静的に検証したうえでHEADリクエストを送り、画像であることとサイズを確認する。
func (g *AvatarGuard) Verify(ctx context.Context, rawURL string) error {
	if err := g.validate(rawURL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("image could not be reached")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("image returned status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return fmt.Errorf("not an image: %q", ct)
	}
	if g.maxSize > 0 && resp.ContentLength > g.maxSize {
		return fmt.Errorf("image is larger than %d bytes", g.maxSize)
	}
	return nil
}
