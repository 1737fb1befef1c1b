package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/instrument"
)

// symbolPair is one instrument present on both venues. NativeA and NativeB
// address the quote view; EmitID is the instrument id stamped on emitted
// opportunities (the canonical option id in options mode, otherwise the
// shared symbol).
type symbolPair struct {
	NativeA string
	NativeB string
	EmitID  string
}

// discoverUniverse intersects the two venues' published symbol lists. An
// absent or expired meta key on either side yields an empty universe; the
// scan tick then does no work until the adapters republish.
func (s *Scanner) discoverUniverse(ctx context.Context) []symbolPair {
	symsA, err := s.symbolsFor(ctx, s.cfg.Venues[0])
	if err != nil {
		return nil
	}
	symsB, err := s.symbolsFor(ctx, s.cfg.Venues[1])
	if err != nil {
		return nil
	}
	if len(symsA) == 0 || len(symsB) == 0 {
		return nil
	}

	var pairs []symbolPair
	if s.cfg.Options {
		pairs = intersectCanonical(symsA, symsB)
	} else {
		pairs = intersectNative(symsA, symsB)
	}

	// Stable order keeps quote batches and emissions deterministic.
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].EmitID < pairs[j].EmitID })

	if len(pairs) > s.cfg.MaxSymbols {
		pairs = pairs[:s.cfg.MaxSymbols]
	}
	return pairs
}

func (s *Scanner) symbolsFor(ctx context.Context, venue string) ([]string, error) {
	syms, err := s.quotes.Symbols(ctx, venue)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("symbol discovery failed",
				slog.String("venue", venue),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}
	return syms, nil
}

// intersectNative matches symbols byte-for-byte across venues.
func intersectNative(symsA, symsB []string) []symbolPair {
	onB := make(map[string]struct{}, len(symsB))
	for _, s := range symsB {
		onB[s] = struct{}{}
	}

	var pairs []symbolPair
	for _, s := range symsA {
		if _, ok := onB[s]; ok {
			pairs = append(pairs, symbolPair{NativeA: s, NativeB: s, EmitID: s})
		}
	}
	return pairs
}

// intersectCanonical matches option symbols on their canonical id so venues
// with different native encodings still pair up. Quote reads keep each
// venue's native id; the emitted opportunity carries the canonical one.
func intersectCanonical(symsA, symsB []string) []symbolPair {
	nativeB := make(map[string]string, len(symsB))
	for _, s := range symsB {
		if canon, ok := instrument.CanonicalOption(s); ok {
			nativeB[canon] = s
		}
	}

	var pairs []symbolPair
	seen := make(map[string]struct{})
	for _, s := range symsA {
		canon, ok := instrument.CanonicalOption(s)
		if !ok {
			continue
		}
		b, ok := nativeB[canon]
		if !ok {
			continue
		}
		if _, dup := seen[canon]; dup {
			continue
		}
		seen[canon] = struct{}{}
		pairs = append(pairs, symbolPair{NativeA: s, NativeB: b, EmitID: canon})
	}
	return pairs
}
