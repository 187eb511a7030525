package rules

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

// SeverityFile is the YAML form of a severity classification table:
//
//	fallback: general
//	prefixes:
//	  SAF-: safety
//	  CRI-: critical
//	  GEN-T: critical
type SeverityFile struct {
	Fallback string            `yaml:"fallback"`
	Prefixes map[string]string `yaml:"prefixes"`
}

// LoadSeverityFile reads a classification table from path. An empty path
// returns the default prefix table.
func LoadSeverityFile(path string) (*core.PrefixClassifier, error) {
	if path == "" {
		return core.NewPrefixClassifier(core.DefaultSeverityPrefixes, core.SeverityGeneral), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open severity file: %w", err)
	}
	defer f.Close()
	return ParseSeverityFile(f)
}

// ParseSeverityFile decodes a classification table.
func ParseSeverityFile(r io.Reader) (*core.PrefixClassifier, error) {
	var sf SeverityFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode severity file: %w", err)
	}

	var fallback core.Severity
	if sf.Fallback != "" {
		sev, err := core.ParseSeverity(sf.Fallback)
		if err != nil {
			return nil, fmt.Errorf("severity file fallback: %w", err)
		}
		fallback = sev
	}

	prefixes := make(map[string]core.Severity, len(sf.Prefixes))
	for p, s := range sf.Prefixes {
		sev, err := core.ParseSeverity(s)
		if err != nil {
			return nil, fmt.Errorf("severity file prefix %q: %w", p, err)
		}
		prefixes[p] = sev
	}
	if len(prefixes) == 0 {
		prefixes = core.DefaultSeverityPrefixes
	}
	return core.NewPrefixClassifier(prefixes, fallback), nil
}
