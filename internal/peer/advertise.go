package peer

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// AdvertisePublic as Options.AdvertiseAddr asks public echo services for the
// address other peers should dial.
const AdvertisePublic = "public"

var publicIPServices = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
}

// resolveAdvertiseAddr picks the address announced to the tracker.
// Priority: explicit override > public IP (on request) > the local side of
// the tracker connection > the preferred outbound IP.
func resolveAdvertiseAddr(ctx context.Context, override string, trackerConn net.Conn) (string, error) {
	switch override {
	case "":
	case AdvertisePublic:
		return discoverPublicIP(ctx)
	default:
		return override, nil
	}

	host, _, err := net.SplitHostPort(trackerConn.LocalAddr().String())
	if err == nil {
		if ip := net.ParseIP(host); ip != nil && !ip.IsUnspecified() {
			return host, nil
		}
	}
	return outboundIP()
}

// discoverPublicIP tries each echo service in turn.
func discoverPublicIP(ctx context.Context) (string, error) {
	client := &http.Client{Timeout: 5 * time.Second}

	for _, url := range publicIPServices {
		ip, err := fetchIP(ctx, client, url)
		if err == nil {
			return ip, nil
		}
	}
	return "", fmt.Errorf("could not determine public IP from any service")
}

func fetchIP(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("%s answered %q", url, ip)
	}
	return ip, nil
}

// outboundIP is the address the routing table would use to reach the
// internet. Nothing is sent.
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("cannot determine any reachable address: %w", err)
	}
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
