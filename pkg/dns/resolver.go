// Package dns resolves the hosted zone serving a deployment domain and
// publishes records into it.
package dns

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/rs/zerolog"

	"github.com/crofton-cloud/sitectl/pkg/errors"
)

// API is the subset of the Route53 client the resolver uses.
type API interface {
	ListHostedZonesByName(ctx context.Context, params *route53.ListHostedZonesByNameInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesByNameOutput, error)
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
}

// HostedZone is a reference to an existing public hosted zone.
type HostedZone struct {
	ID   string
	Name string
}

// Record is a single DNS record to publish.
type Record struct {
	Name  string
	Type  string
	Value string
	TTL   int64
}

// Resolver finds hosted zones and writes records into them.
type Resolver struct {
	api API
	log zerolog.Logger
}

// NewResolver creates a resolver backed by the given Route53 client.
func NewResolver(api API, log zerolog.Logger) *Resolver {
	return &Resolver{
		api: api,
		log: log.With().Str("component", "dns").Logger(),
	}
}

// Resolve returns the public hosted zone whose name is the longest suffix of
// domain. A zone named "example.org" serves both "example.org" and
// "www.example.org", but an exact zone for the subdomain wins over the
// parent. Zones whose name merely contains the domain never match.
func (r *Resolver) Resolve(ctx context.Context, domain string) (HostedZone, error) {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" {
		return HostedZone{}, errors.ValidationError("domain must not be empty", nil)
	}

	for _, candidate := range zoneCandidates(domain) {
		out, err := r.api.ListHostedZonesByName(ctx, &route53.ListHostedZonesByNameInput{
			DNSName: aws.String(candidate),
			// Route53 allows several zones with the same name, so ask for a
			// few entries and pick the public one.
			MaxItems: aws.Int32(5),
		})
		if err != nil {
			return HostedZone{}, fmt.Errorf("failed to list hosted zones for %s: %w", candidate, err)
		}

		for _, zone := range out.HostedZones {
			name := strings.TrimSuffix(aws.ToString(zone.Name), ".")
			if !strings.EqualFold(name, candidate) {
				// Results are sorted starting at the candidate name, so the
				// first mismatch means the zone does not exist.
				break
			}
			if zone.Config != nil && zone.Config.PrivateZone {
				continue
			}
			resolved := HostedZone{ID: zoneID(aws.ToString(zone.Id)), Name: name}
			r.log.Debug().
				Str("domain", domain).
				Str("zone", resolved.Name).
				Str("zone_id", resolved.ID).
				Msg("resolved hosted zone")
			return resolved, nil
		}
	}

	return HostedZone{}, errors.ZoneNotFound(domain)
}

// zoneCandidates lists the suffixes of domain that could name a hosted zone,
// longest first. The shortest candidate keeps two labels since a bare TLD is
// never a usable zone.
func zoneCandidates(domain string) []string {
	labels := strings.Split(domain, ".")
	var candidates []string
	for i := 0; i+2 <= len(labels); i++ {
		candidates = append(candidates, strings.Join(labels[i:], "."))
	}
	return candidates
}

// zoneID strips the "/hostedzone/" path prefix Route53 puts on zone IDs.
func zoneID(raw string) string {
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		return raw[i+1:]
	}
	return raw
}

// Upsert publishes records into the zone, overwriting any existing records
// with the same name and type. All records go out in a single change batch.
func (r *Resolver) Upsert(ctx context.Context, zone HostedZone, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	changes := make([]types.Change, 0, len(records))
	for _, rec := range records {
		changes = append(changes, types.Change{
			Action: types.ChangeActionUpsert,
			ResourceRecordSet: &types.ResourceRecordSet{
				Name: aws.String(rec.Name),
				Type: types.RRType(rec.Type),
				TTL:  aws.Int64(rec.TTL),
				ResourceRecords: []types.ResourceRecord{
					{Value: aws.String(rec.Value)},
				},
			},
		})
	}

	_, err := r.api.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zone.ID),
		ChangeBatch:  &types.ChangeBatch{Changes: changes},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d records into zone %s: %w", len(records), zone.ID, err)
	}

	r.log.Info().
		Int("records", len(records)).
		Str("zone", zone.Name).
		Msg("published dns records")
	return nil
}
