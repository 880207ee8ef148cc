package discovery

/*
domaingate — discovery gating and domain vetting in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// TestNormalizeDomain covers the candidate formats discovery hands us.
func TestNormalizeDomain(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple domain", "example.com", "example.com"},
		{"Subdomain", "www.example.com", "www.example.com"},
		{"Uppercase", "EXAMPLE.COM", "example.com"},
		{"Mixed case", "Www.Example.Com", "www.example.com"},
		{"Trailing dot", "example.com.", "example.com"},
		{"Multiple trailing dots", "example.com...", "example.com"},
		{"Leading/Trailing dots", ".example.com.", "example.com"},
		{"Leading/Trailing spaces", "  example.com  ", "example.com"},
		{"Wildcard", "*.example.com", "example.com"},
		{"Multiple wildcards", "*.*.EXAMPLE.COM.", "example.com"},
		{"Punycode uppercase", "XN--BCHER-KVA.EXAMPLE.COM", "xn--bcher-kva.example.com"},
		{"URL", "https://Shop.Example.com/deals?id=1", "shop.example.com"},
		{"URL with port", "http://example.com:8080/", "example.com"},
		{"Domain with port", "example.com:443", "example.com"},
		{"Userinfo", "https://user@example.com", "example.com"},
		{"Empty string", "", ""},
		{"Just spaces", "   ", ""},
		{"Just dots", "...", ""},
		{"IP Address v4", "192.168.1.1", ""},
		{"IP Address v6", "::1", ""},
		{"Internal spaces", "example test.com", ""},
		{"Leading dash", "-example.com", ""},
		{"Trailing dash", "example-.com", ""},
		{"Empty label", "example..com", ""},
		{"Single label", "localhost", ""},
		{"Long label", strings.Repeat("a", 64) + ".com", ""},
		{"Too long", strings.Repeat("a.", 127) + "com", ""},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			actual := NormalizeDomain(tc.input)
			if actual != tc.expected {
				t.Errorf("NormalizeDomain(%q) = %q; want %q", tc.input, actual, tc.expected)
			}
		})
	}
}

func TestDedupeKeepsFirstSeenOrder(t *testing.T) {
	t.Parallel()

	got := Dedupe([]string{"B.test", "a.test", "b.test.", "", "*.a.test", "c.test"})
	want := []string{"b.test", "a.test", "c.test"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Dedupe = %v; want %v", got, want)
	}
}

func TestFileSourceReadsCandidates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "candidates.txt")
	content := "# seeds\nshop.example.com\n\nSHOP.example.com  # dup\nhttps://deals.example.org/x\nnot a domain\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := NewFileSource(path).Discover(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	want := []string{"shop.example.com", "deals.example.org"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Discover = %v; want %v", got, want)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewFileSource(filepath.Join(t.TempDir(), "nope.txt")).Discover(context.Background(), Request{})
	if err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func BenchmarkNormalizeDomainMixedCaseTrailingDot(b *testing.B) {
	domain := "Www.Example.COM."
	for i := 0; i < b.N; i++ {
		_ = NormalizeDomain(domain)
	}
}
