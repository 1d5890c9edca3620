package client

import (
	"net"
	"net/url"
	"strconv"
)

// Candidates builds the ordered endpoint list a Controller walks on every
// connection attempt: the primary URL first, then same-host alternates on the
// given ports, then loopback fallbacks. Duplicates are removed, order is
// preserved.
func Candidates(primary string, altPorts ...int) []string {
	u, err := url.Parse(primary)
	if err != nil || u.Host == "" {
		return []string{primary}
	}

	out := []string{primary}
	seen := map[string]bool{primary: true}
	add := func(hostname, port string) {
		v := *u
		if port == "" {
			v.Host = hostname
		} else {
			v.Host = net.JoinHostPort(hostname, port)
		}
		s := v.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	host := u.Hostname()
	for _, p := range altPorts {
		add(host, strconv.Itoa(p))
	}
	for _, loopback := range []string{"127.0.0.1", "localhost"} {
		add(loopback, u.Port())
		for _, p := range altPorts {
			add(loopback, strconv.Itoa(p))
		}
	}
	return out
}
