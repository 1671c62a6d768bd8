package fragment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/grailbio/base/errors"
)

// Convention identifies which read-name grammar a fragment identifier
// follows.
type Convention uint8

const (
	// ConventionUnknown is the zero value; it never describes a valid name.
	ConventionUnknown Convention = iota
	// ConventionIllumina is instrument:run:flowcell:lane:tile:x:y.
	ConventionIllumina
	// ConventionInteger is a bare non-negative integer, as written for
	// consensus reads.
	ConventionInteger
)

func (c Convention) String() string {
	switch c {
	case ConventionIllumina:
		return "illumina"
	case ConventionInteger:
		return "integer"
	}
	return "unknown"
}

var (
	illuminaRE = regexp.MustCompile(`^[A-Za-z0-9-]+:[0-9]+:[A-Za-z0-9-]+:[0-9]+:[0-9]+:[0-9]+:[0-9]+$`)
	integerRE  = regexp.MustCompile(`^[0-9]+$`)
	umiRE      = regexp.MustCompile(`^[ACGTN]+$`)
	primerRE   = regexp.MustCompile(`^[A-Za-z0-9.:+-]+$`)
)

// Identifier is a parsed read name.  Names have the form
// <core>[_<UMI>[_<primer>]], where core follows one of the conventions.
type Identifier struct {
	Core       string
	UMI        string
	Primer     string
	Convention Convention
}

func (id Identifier) String() string {
	s := id.Core
	if id.UMI != "" {
		s += "_" + id.UMI
	}
	if id.Primer != "" {
		s += "_" + id.Primer
	}
	return s
}

// MalformedIdentifierError reports a read name that matches neither naming
// convention, or a stream that mixes conventions.
type MalformedIdentifierError struct {
	Name    string
	Message string
}

func (e MalformedIdentifierError) Error() string {
	return fmt.Sprintf("malformed read identifier %q: %s", e.Name, e.Message)
}

// IsMalformedIdentifier reports whether err, or any error it wraps, is a
// MalformedIdentifierError.
func IsMalformedIdentifier(err error) bool {
	for err != nil {
		if _, ok := err.(MalformedIdentifierError); ok {
			return true
		}
		if _, ok := err.(*MalformedIdentifierError); ok {
			return true
		}
		e, ok := err.(*errors.Error)
		if !ok {
			return false
		}
		err = e.Err
	}
	return false
}

// ParseIdentifier splits name into its core, UMI and primer components.
func ParseIdentifier(name string) (Identifier, error) {
	parts := strings.Split(name, "_")
	if len(parts) > 3 {
		return Identifier{}, MalformedIdentifierError{name, "too many '_'-separated fields"}
	}
	id := Identifier{Core: parts[0]}
	switch {
	case illuminaRE.MatchString(id.Core):
		id.Convention = ConventionIllumina
	case integerRE.MatchString(id.Core):
		id.Convention = ConventionInteger
	default:
		return Identifier{}, MalformedIdentifierError{name, "neither an Illumina nor an integer name"}
	}
	if len(parts) > 1 {
		if !umiRE.MatchString(parts[1]) {
			return Identifier{}, MalformedIdentifierError{name, fmt.Sprintf("invalid UMI %q", parts[1])}
		}
		id.UMI = parts[1]
	}
	if len(parts) > 2 {
		if !primerRE.MatchString(parts[2]) {
			return Identifier{}, MalformedIdentifierError{name, fmt.Sprintf("invalid primer tag %q", parts[2])}
		}
		id.Primer = parts[2]
	}
	return id, nil
}

// CheckNames verifies that every fragment was parsed under one convention.
// requireUMI additionally rejects names without a UMI.
func CheckNames(frags []*Fragment, requireUMI bool) error {
	var want Convention
	for _, f := range frags {
		if f.ID.Convention == ConventionUnknown {
			return MalformedIdentifierError{f.Name, "name was never parsed"}
		}
		if want == ConventionUnknown {
			want = f.ID.Convention
		}
		if f.ID.Convention != want {
			return MalformedIdentifierError{f.Name,
				fmt.Sprintf("%s name in a stream of %s names", f.ID.Convention, want)}
		}
		if requireUMI && f.ID.UMI == "" {
			return MalformedIdentifierError{f.Name, "no UMI field"}
		}
	}
	return nil
}
