package internaldefs

import (
	goIdP "github.com/MrEthical07/goIdP"
)

// Source yields the providers whose metrics are exported. *goIdP.Registry
// satisfies it.
type Source interface {
	Providers() []goIdP.CredentialManager
}

// Sample is one provider's metrics at collection time.
type Sample struct {
	Realm        string
	Provider     string
	Snapshot     goIdP.MetricsSnapshot
	AuditDropped uint64
}

// Empty reports whether the sample carries nothing worth exporting.
func (s Sample) Empty() bool {
	return len(s.Snapshot.Counters) == 0 && len(s.Snapshot.Histograms) == 0 && s.AuditDropped == 0
}

// Collect snapshots every provider of src, in src order.
func Collect(src Source) []Sample {
	if src == nil {
		return nil
	}
	providers := src.Providers()
	out := make([]Sample, 0, len(providers))
	for _, m := range providers {
		if m == nil {
			continue
		}
		out = append(out, Sample{
			Realm:        m.Realm(),
			Provider:     m.ProviderID(),
			Snapshot:     m.MetricsSnapshot(),
			AuditDropped: m.AuditDropped(),
		})
	}
	return out
}

// Single adapts one provider to a Source.
func Single(m goIdP.CredentialManager) Source {
	return single{m: m}
}

type single struct {
	m goIdP.CredentialManager
}

func (s single) Providers() []goIdP.CredentialManager {
	if s.m == nil {
		return nil
	}
	return []goIdP.CredentialManager{s.m}
}
