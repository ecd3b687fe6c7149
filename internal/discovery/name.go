package discovery

import (
	"strings"

	"github.com/miekg/dns"
)

// EndpointName derives the human-readable endpoint name from a raw
// DNS-SD instance name by stripping the "<service>.<domain>." suffix
// and decoding DNS escapes.  A raw name that is already a bare
// instance label is returned unescaped.
func EndpointName(raw, service, domain string) string {
	if raw == "" {
		return ""
	}
	name := dns.Fqdn(raw)
	suffix := serviceDomain(service, domain)

	if suffix != "" && dns.IsSubDomain(suffix, name) {
		labels := dns.SplitDomainName(name)
		keep := len(labels) - dns.CountLabel(suffix)
		if keep > 0 {
			return unescape(strings.Join(labels[:keep], "."))
		}
	}
	return unescape(strings.TrimSuffix(name, "."))
}

// serviceDomain joins service type and domain into a fully qualified
// name, e.g. "_openlcb-can._tcp.local.".
func serviceDomain(service, domain string) string {
	service = strings.Trim(service, ".")
	domain = strings.Trim(domain, ".")
	switch {
	case service == "" && domain == "":
		return ""
	case domain == "":
		return dns.Fqdn(service)
	case service == "":
		return dns.Fqdn(domain)
	}
	return dns.Fqdn(service + "." + domain)
}

// unescape decodes the \X and \DDD escapes of a DNS label.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch != '\\' || i+1 >= len(s) {
			b.WriteByte(ch)
			continue
		}
		if i+3 < len(s) && isDigit(s[i+1]) && isDigit(s[i+2]) && isDigit(s[i+3]) {
			v := int(s[i+1]-'0')*100 + int(s[i+2]-'0')*10 + int(s[i+3]-'0')
			if v <= 255 {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i+1])
		i++
	}
	return b.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
