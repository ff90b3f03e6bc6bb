package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/wcagai/scanner-go/internal/orchestrator"
	"github.com/wcagai/scanner-go/pkg/errors"
)

// ValidatorConfig controls target validation
type ValidatorConfig struct {
	// AllowPrivateHosts permits scanning loopback and RFC1918 addresses,
	// for development against local fixtures
	AllowPrivateHosts bool
	// MaxHTMLBytes bounds inline HTML input size
	MaxHTMLBytes int
	// BlockedHosts are rejected outright, matched case-insensitively
	BlockedHosts []string
}

// DefaultValidatorConfig returns default validation settings
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		AllowPrivateHosts: false,
		MaxHTMLBytes:      5 * 1024 * 1024,
		BlockedHosts:      []string{"metadata.google.internal", "169.254.169.254"},
	}
}

// NewValidator returns the target validator used by the orchestrator. Every
// rejection is a security violation and is never retried.
func NewValidator(cfg ValidatorConfig) orchestrator.Validator {
	blocked := make(map[string]struct{}, len(cfg.BlockedHosts))
	for _, host := range cfg.BlockedHosts {
		blocked[strings.ToLower(host)] = struct{}{}
	}

	return func(target orchestrator.Target) error {
		switch target.Type {
		case orchestrator.TargetTypeURL:
			return validateURL(target.Input, cfg, blocked)
		case orchestrator.TargetTypeHTML:
			return validateHTML(target.Input, cfg)
		default:
			return errors.NewSecurityViolationError(
				fmt.Sprintf("unsupported target type %q", target.Type))
		}
	}
}

func validateURL(raw string, cfg ValidatorConfig, blocked map[string]struct{}) error {
	if strings.TrimSpace(raw) == "" {
		return errors.NewSecurityViolationError("target URL is empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return errors.NewSecurityViolationError("target URL is not parseable").WithCause(err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.NewSecurityViolationError(
			fmt.Sprintf("scheme %q is not allowed", u.Scheme))
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return errors.NewSecurityViolationError("target URL has no host")
	}
	if _, ok := blocked[host]; ok {
		return errors.NewSecurityViolationError(fmt.Sprintf("host %q is blocked", host))
	}

	if cfg.AllowPrivateHosts {
		return nil
	}

	if host == "localhost" || strings.HasSuffix(host, ".local") {
		return errors.NewSecurityViolationError(fmt.Sprintf("host %q is not routable", host))
	}
	if ip := net.ParseIP(host); ip != nil && isPrivate(ip) {
		return errors.NewSecurityViolationError(
			fmt.Sprintf("address %q is in a private range", host))
	}

	return nil
}

func validateHTML(content string, cfg ValidatorConfig) error {
	if strings.TrimSpace(content) == "" {
		return errors.NewSecurityViolationError("HTML content is empty")
	}
	if cfg.MaxHTMLBytes > 0 && len(content) > cfg.MaxHTMLBytes {
		return errors.NewSecurityViolationError(
			fmt.Sprintf("HTML content exceeds %d bytes", cfg.MaxHTMLBytes))
	}
	return nil
}

func isPrivate(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
