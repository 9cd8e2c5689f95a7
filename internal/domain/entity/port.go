package entity

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatPort renders a published port as "[ip:]hostPort:containerPort/proto".
// Wildcard host addresses are omitted; a missing host port yields
// "containerPort/proto".
func FormatPort(hostIP, hostPort, containerPort, proto string) string {
	if proto == "" {
		proto = "tcp"
	}
	if hostPort == "" {
		return containerPort + "/" + proto
	}
	switch hostIP {
	case "", "0.0.0.0", "::", "[::]":
		return hostPort + ":" + containerPort + "/" + proto
	}
	if strings.Contains(hostIP, ":") && !strings.HasPrefix(hostIP, "[") {
		hostIP = "[" + hostIP + "]"
	}
	return hostIP + ":" + hostPort + ":" + containerPort + "/" + proto
}

// ParsePortSpec expands a short-syntax port declaration such as
// "127.0.0.1:8080:80/udp" or "9000-9001:9000-9001" into formatted ports.
func ParsePortSpec(spec string) ([]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty port")
	}

	proto := "tcp"
	if i := strings.LastIndex(spec, "/"); i >= 0 {
		proto, spec = spec[i+1:], spec[:i]
	}

	var hostIP string
	if strings.HasPrefix(spec, "[") {
		end := strings.Index(spec, "]:")
		if end < 0 {
			return nil, fmt.Errorf("invalid port %q", spec)
		}
		hostIP, spec = spec[1:end], spec[end+2:]
	}

	parts := strings.Split(spec, ":")
	var hostPart, containerPart string
	switch len(parts) {
	case 1:
		containerPart = parts[0]
	case 2:
		hostPart, containerPart = parts[0], parts[1]
	case 3:
		if hostIP != "" {
			return nil, fmt.Errorf("invalid port %q", spec)
		}
		hostIP, hostPart, containerPart = parts[0], parts[1], parts[2]
	default:
		return nil, fmt.Errorf("invalid port %q", spec)
	}

	containers, err := expandRange(containerPart)
	if err != nil {
		return nil, err
	}
	if hostPart == "" {
		out := make([]string, 0, len(containers))
		for _, c := range containers {
			out = append(out, FormatPort(hostIP, "", c, proto))
		}
		return out, nil
	}

	hosts, err := expandRange(hostPart)
	if err != nil {
		return nil, err
	}
	if len(hosts) != len(containers) {
		return nil, fmt.Errorf("port range mismatch in %q", spec)
	}
	out := make([]string, 0, len(containers))
	for i := range containers {
		out = append(out, FormatPort(hostIP, hosts[i], containers[i], proto))
	}
	return out, nil
}

func expandRange(s string) ([]string, error) {
	lo, hi, isRange := strings.Cut(s, "-")
	start, err := strconv.Atoi(lo)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q", s)
	}
	if !isRange {
		return []string{strconv.Itoa(start)}, nil
	}
	end, err := strconv.Atoi(hi)
	if err != nil || end < start {
		return nil, fmt.Errorf("invalid port range %q", s)
	}
	out := make([]string, 0, end-start+1)
	for p := start; p <= end; p++ {
		out = append(out, strconv.Itoa(p))
	}
	return out, nil
}
