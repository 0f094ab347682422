// Package discovery centralizes internal service-discovery conventions.
package discovery

import (
	"strconv"
	"strings"
)

// ServiceWorker is the notification worker identity; it serves gRPC health.
const ServiceWorker = "worker"

var grpcPorts = map[string]int{
	ServiceWorker: 8089,
}

// DefaultGRPCAddr returns the canonical in-network gRPC address for a
// service, such as worker:8089.
func DefaultGRPCAddr(service string) string {
	service = strings.TrimSpace(service)
	port, ok := grpcPorts[service]
	if !ok {
		return ""
	}
	return service + ":" + strconv.Itoa(port)
}

// DefaultListenAddr returns the address a service binds to, such as :8089.
func DefaultListenAddr(service string) string {
	port, ok := grpcPorts[strings.TrimSpace(service)]
	if !ok {
		return ""
	}
	return ":" + strconv.Itoa(port)
}

// OrDefaultGRPCAddr returns value when set, otherwise the service convention.
func OrDefaultGRPCAddr(value, service string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return DefaultGRPCAddr(service)
}

// OrDefaultListenAddr returns value when set, otherwise the service convention.
func OrDefaultListenAddr(value, service string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return DefaultListenAddr(service)
}
