// Package util provides helpers shared by the presence transports.
package util

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// SetProxy configures httpClient to route requests through proxyURL. It supports
// socks5, http and https proxies; an empty or invalid URL leaves the client as is.
func SetProxy(proxyURL string, httpClient *http.Client) *http.Client {
	proxyFunc, dialContext := resolveProxy(proxyURL)
	if proxyFunc == nil && dialContext == nil {
		return httpClient
	}
	transport := &http.Transport{
		Proxy:       proxyFunc,
		DialContext: dialContext,
	}
	httpClient.Transport = transport
	return httpClient
}

// NewWebsocketDialer returns a websocket dialer that honours proxyURL.
func NewWebsocketDialer(proxyURL string) *websocket.Dialer {
	dialer := *websocket.DefaultDialer
	proxyFunc, dialContext := resolveProxy(proxyURL)
	if proxyFunc != nil {
		dialer.Proxy = proxyFunc
	}
	if dialContext != nil {
		dialer.Proxy = nil
		dialer.NetDialContext = dialContext
	}
	return &dialer
}

func resolveProxy(raw string) (func(*http.Request) (*url.URL, error), func(ctx context.Context, network, addr string) (net.Conn, error)) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	proxyURL, errParse := url.Parse(raw)
	if errParse != nil {
		log.Errorf("invalid proxy url %q: %v", raw, errParse)
		return nil, nil
	}

	switch proxyURL.Scheme {
	case "socks5":
		var proxyAuth *proxy.Auth
		if proxyURL.User != nil {
			username := proxyURL.User.Username()
			password, _ := proxyURL.User.Password()
			proxyAuth = &proxy.Auth{User: username, Password: password}
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", proxyURL.Host, proxyAuth, proxy.Direct)
		if errSOCKS5 != nil {
			log.Errorf("create SOCKS5 dialer failed: %v", errSOCKS5)
			return nil, nil
		}
		return nil, func(ctx context.Context, network, addr string) (net.Conn, error) {
			if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
				return contextDialer.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
	case "http", "https":
		return http.ProxyURL(proxyURL), nil
	default:
		log.Warnf("unsupported proxy scheme %q, ignoring proxy", proxyURL.Scheme)
		return nil, nil
	}
}
