package runner

import (
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/flitapp/flit-sync/internal/api"
)

// connectivity probe timeout. Short so an offline drain pass stays fast.
const probeTimeout = 2 * time.Second

// NetChecker returns an online check that probes the service endpoint
// with a TCP dial. Probing the actual endpoint rather than a public DNS
// host means "online" also covers captive portals and firewalled hosts.
func NetChecker(baseURL string) func() bool {
	host := dialTarget(baseURL)
	return func() bool {
		conn, err := net.DialTimeout("tcp", host, probeTimeout)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

func dialTarget(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return baseURL
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "http" {
		return u.Host + ":80"
	}
	return u.Host + ":443"
}

func apiRetryable(err error) bool {
	if api.Retryable(err) {
		return true
	}
	// Transport errors that never reached the classifier are transient.
	var netErr net.Error
	return errors.As(err, &netErr)
}
