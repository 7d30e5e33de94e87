// Package dbref implements the Database Source tagged union and the
// database reference grammar from spec §3 and §6, recovered in part from
// original_source/talaria-utils/src/database/resolver.rs.
package dbref

import (
	"fmt"

	"github.com/talariadb/casg/casgerr"
)

// SourceKind identifies which variant of Source a value holds.
type SourceKind int

const (
	UniProtKind SourceKind = iota
	NCBIKind
	CustomKind
)

func (k SourceKind) String() string {
	switch k {
	case UniProtKind:
		return "uniprot"
	case NCBIKind:
		return "ncbi"
	case CustomKind:
		return "custom"
	default:
		return "unknown"
	}
}

// uniProtDatasets and ncbiDatasets enumerate the datasets recognized per
// source, recovered from resolver.rs's dataset match arms.
var uniProtDatasets = map[string]bool{
	"swissprot": true,
	"trembl":    true,
	"uniref50":  true,
	"uniref90":  true,
	"uniref100": true,
}

var ncbiDatasets = map[string]bool{
	"nr":              true,
	"nt":              true,
	"refseq-protein":  true,
	"refseq-genomic":  true,
	"refseq-rna":      true,
}

// Source is the tagged union {UniProt(sub), NCBI(sub), Custom(name)} from
// spec §3.
type Source struct {
	Kind    SourceKind
	Dataset string
}

func UniProt(dataset string) Source { return Source{Kind: UniProtKind, Dataset: dataset} }
func NCBI(dataset string) Source    { return Source{Kind: NCBIKind, Dataset: dataset} }
func Custom(name string) Source     { return Source{Kind: CustomKind, Dataset: name} }

// CanonicalString renders the source in its "source/dataset" wire form.
func (s Source) CanonicalString() string {
	return fmt.Sprintf("%s/%s", s.Kind, s.Dataset)
}

// Validate checks that the dataset is recognized for the source's kind.
// Custom sources accept any non-empty name.
func (s Source) Validate() error {
	if s.Dataset == "" {
		return casgerr.InvalidInput("dbref: empty dataset for source %s", s.Kind)
	}
	switch s.Kind {
	case UniProtKind:
		if !uniProtDatasets[s.Dataset] {
			return casgerr.InvalidInput("dbref: unrecognized uniprot dataset %q", s.Dataset)
		}
	case NCBIKind:
		if !ncbiDatasets[s.Dataset] {
			return casgerr.InvalidInput("dbref: unrecognized ncbi dataset %q", s.Dataset)
		}
	case CustomKind:
		// any non-empty name is accepted.
	default:
		return casgerr.InvalidInput("dbref: unrecognized source kind %v", s.Kind)
	}
	return nil
}

// ParseSource parses a "source/dataset" pair into a Source, validating the
// dataset against the source's enumeration.
func ParseSource(source, dataset string) (Source, error) {
	var s Source
	switch source {
	case "uniprot":
		s = UniProt(dataset)
	case "ncbi":
		s = NCBI(dataset)
	case "custom":
		s = Custom(dataset)
	default:
		return Source{}, casgerr.InvalidInput("dbref: unrecognized source %q", source)
	}
	if err := s.Validate(); err != nil {
		return Source{}, err
	}
	return s, nil
}
