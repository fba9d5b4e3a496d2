/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 *
 */

package dnspub

import (
	"context"
	"fmt"

	cloudflare "github.com/cloudflare/cloudflare-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Records we manage are tagged with this comment, so that manually
// maintained records in the same zones can be told apart.
const cfComment = "aprs2-dynamic"

type cfDesired struct {
	rtype   string
	content string
}

// CloudflareBackend maintains record sets through the Cloudflare API.
type CloudflareBackend struct {
	log   *zap.SugaredLogger
	api   *cloudflare.API
	zones map[string]string // zone name -> zone ID
}

// NewCloudflareBackend prepares a Cloudflare back-end for the given zones,
// authenticated with an API token.
func NewCloudflareBackend(log *zap.SugaredLogger, token string, zones []string) (*CloudflareBackend, error) {
	api, err := cloudflare.NewWithAPIToken(token)
	if err != nil {
		return nil, errors.Wrap(err, "cloudflare client setup failed")
	}

	b := &CloudflareBackend{
		log:   log,
		api:   api,
		zones: make(map[string]string),
	}
	for _, z := range zones {
		b.zones[z] = ""
	}
	return b, nil
}

func (b *CloudflareBackend) zoneID(zone string) (string, error) {
	id, ok := b.zones[zone]
	if !ok {
		return "", fmt.Errorf("zone %s is not configured for Cloudflare", zone)
	}
	if id == "" {
		var err error
		id, err = b.api.ZoneIDByName(zone)
		if err != nil {
			return "", errors.Wrapf(err, "cannot resolve Cloudflare zone %s", zone)
		}
		b.zones[zone] = id
	}
	return id, nil
}

// Push reconciles the records at fqdn against the desired set: missing
// records are added, stale ones replaced or deleted.  A CNAME replaces
// everything else at the name.
func (b *CloudflareBackend) Push(ctx context.Context, logid, zone, fqdn string, v4Addrs, v6Addrs []string, cname string) error {
	zoneID, err := b.zoneID(zone)
	if err != nil {
		return err
	}
	rc := cloudflare.ZoneIdentifier(zoneID)

	old, _, err := b.api.ListDNSRecords(ctx, rc, cloudflare.ListDNSRecordsParams{Name: fqdn})
	if err != nil {
		return errors.Wrapf(err, "failed to fetch existing records for %s", fqdn)
	}

	existingA := make(map[string]string)
	existingAAAA := make(map[string]string)
	existingCNAME := make(map[string]string)
	for _, r := range old {
		switch r.Type {
		case "A":
			existingA[r.Content] = r.ID
		case "AAAA":
			existingAAAA[r.Content] = r.ID
		case "CNAME":
			existingCNAME[r.Content] = r.ID
		}
	}

	var required []cfDesired

	if cname != "" {
		if _, ok := existingCNAME[cname]; !ok {
			required = []cfDesired{{"CNAME", cname}}
			b.log.Infof("%s should add CNAME %s", fqdn, cname)
		}
		return b.pushCNAME(ctx, rc, fqdn, old, required)
	}

	for _, a := range v4Addrs {
		if _, ok := existingA[a]; !ok {
			required = append(required, cfDesired{"A", a})
			b.log.Infof("%s should add A %s", fqdn, a)
		}
	}
	for _, a := range v6Addrs {
		if _, ok := existingAAAA[a]; !ok {
			required = append(required, cfDesired{"AAAA", a})
			b.log.Infof("%s should add AAAA %s", fqdn, a)
		}
	}

	var idsToDelete []string
	for _, id := range existingCNAME {
		idsToDelete = append(idsToDelete, id)
	}
	for a, id := range existingA {
		if !contains(v4Addrs, a) {
			b.log.Infof("%s has A %s - should delete", fqdn, a)
			idsToDelete = append(idsToDelete, id)
		}
	}
	for a, id := range existingAAAA {
		if !contains(v6Addrs, a) {
			b.log.Infof("%s has AAAA %s - should delete", fqdn, a)
			idsToDelete = append(idsToDelete, id)
		}
	}

	var firstErr error
	for _, rec := range required {
		if len(idsToDelete) > 0 {
			// Replace one of the stale records in place.
			id := idsToDelete[0]
			idsToDelete = idsToDelete[1:]
			comment := cfComment
			_, err := b.api.UpdateDNSRecord(ctx, rc, cloudflare.UpdateDNSRecordParams{
				ID:      id,
				Type:    rec.rtype,
				Name:    fqdn,
				Content: rec.content,
				Comment: &comment,
			})
			if err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "failed to replace record %s %s", fqdn, rec.content)
			}
			continue
		}
		_, err := b.api.CreateDNSRecord(ctx, rc, cloudflare.CreateDNSRecordParams{
			Type:    rec.rtype,
			Name:    fqdn,
			Content: rec.content,
			Comment: cfComment,
		})
		if err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to create record %s %s", fqdn, rec.content)
		}
	}

	for _, id := range idsToDelete {
		if err := b.api.DeleteDNSRecord(ctx, rc, id); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to delete record %s", fqdn)
		}
	}

	return firstErr
}

// pushCNAME replaces whatever is at the name with a single CNAME.
func (b *CloudflareBackend) pushCNAME(ctx context.Context, rc *cloudflare.ResourceContainer, fqdn string,
	old []cloudflare.DNSRecord, required []cfDesired) error {

	if len(required) == 0 {
		// CNAME already in place; delete anything else at the name.
		var firstErr error
		for _, r := range old {
			if r.Type == "CNAME" {
				continue
			}
			if err := b.api.DeleteDNSRecord(ctx, rc, r.ID); err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "failed to delete record %s", fqdn)
			}
		}
		return firstErr
	}

	rec := required[0]
	comment := cfComment

	// Delete all but one record and replace the survivor with the CNAME.
	var firstErr error
	for i := 1; i < len(old); i++ {
		if err := b.api.DeleteDNSRecord(ctx, rc, old[i].ID); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to delete record %s %s", fqdn, old[i].Content)
		}
	}
	if len(old) > 0 {
		b.log.Infof("%s: replacing id %s with CNAME %s", fqdn, old[0].ID, rec.content)
		_, err := b.api.UpdateDNSRecord(ctx, rc, cloudflare.UpdateDNSRecordParams{
			ID:      old[0].ID,
			Type:    rec.rtype,
			Name:    fqdn,
			Content: rec.content,
			Comment: &comment,
		})
		if err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to replace %s with CNAME %s", fqdn, rec.content)
		}
	} else {
		b.log.Infof("%s: inserting CNAME %s", fqdn, rec.content)
		_, err := b.api.CreateDNSRecord(ctx, rc, cloudflare.CreateDNSRecordParams{
			Type:    rec.rtype,
			Name:    fqdn,
			Content: rec.content,
			Comment: cfComment,
		})
		if err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to create CNAME for %s", fqdn)
		}
	}
	return firstErr
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
