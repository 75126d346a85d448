// Package blockgroup correlates a device's zone array with a filesystem's
// allocation-group layout. It is grounded on the original tool's
// znr_bg_refresh/znr_bg_map_zones_to_blockgroups (see
// _examples/original_source/src/znr_bg.c): conventional zones may span
// several blockgroups, so the zone cursor backs up by one zone at the start
// of each blockgroup to catch a conventional zone that started inside the
// previous one.
package blockgroup

import (
	"github.com/wdzonar/zonar/device"
	"github.com/wdzonar/zonar/zonarerr"
)

// MaxZonesPerBlockgroup bounds how many zones a single blockgroup may list,
// matching ZNR_BG_MAX_ZONES.
const MaxZonesPerBlockgroup = 512

// Blockgroup is a contiguous sector range of the filesystem's allocation
// topology, annotated with the zones of the device it overlaps.
type Blockgroup struct {
	Sector    uint64
	NrSectors uint64
	WPSector  uint64
	Flags     device.ZoneType
	Zones     []int // indices into the session's zone array
}

// Refresh re-reads the zones covering bgs and maps them onto bgs in place,
// returning the number of blockgroups refreshed. Implements spec.md §4.3
// verbatim:
//
//  1. the zone span [z0, z1) covering the blockgroup array is computed from
//     the first and last blockgroup's sector range;
//  2. device.ReportZones(z0, zones[z0:z1)) re-reads those zones;
//  3. each blockgroup walks the zone array forward from where the previous
//     blockgroup's scan left off, backed up by one zone to catch a
//     conventional zone that started inside the previous blockgroup;
//  4. the blockgroup's Flags and WPSector are set from its first mapped
//     zone.
//
// For a non-zoned device every blockgroup is marked conventional and no
// zone report is issued.
func Refresh(dev *device.Descriptor, zones []device.Zone, bgs []Blockgroup) (int, error) {
	if len(bgs) == 0 {
		return 0, nil
	}

	if !dev.IsZoned {
		for i := range bgs {
			bgs[i].Flags = device.ZoneTypeConventional
			bgs[i].WPSector = 0
			bgs[i].Zones = nil
		}
		return len(bgs), nil
	}

	z0 := bgs[0].Sector / uint64(dev.ZoneSectors)
	last := bgs[len(bgs)-1]
	z1 := (last.Sector + last.NrSectors) / uint64(dev.ZoneSectors)
	if z1 > uint64(dev.ZoneCount) {
		return 0, zonarerr.Invalid("blockgroup range maps to zone %d, beyond zone count %d", z1, dev.ZoneCount)
	}
	if z1 <= z0 {
		return 0, zonarerr.Invalid("empty zone span for blockgroup range")
	}

	n, err := dev.ReportZones(uint32(z0), zones[z0:z1])
	if err != nil {
		return 0, err
	}
	if uint64(n) != z1-z0 {
		return 0, zonarerr.Invalid("got %d zones, expected %d", n, z1-z0)
	}

	return mapZonesToBlockgroups(zones, int(z0), bgs)
}

// MapZones maps zones onto bgs the same way Refresh does, without issuing a
// device zone report first. A net-client session calls this directly after
// receiving a fresh zone array and raw blockgroup array over the wire, since
// the wire protocol carries no zone-pointer list (it is "opaque/unused" on
// the wire by design; the receiver recomputes it from its own zone array).
func MapZones(zones []device.Zone, bgs []Blockgroup) (int, error) {
	return mapZonesToBlockgroups(zones, 0, bgs)
}

// mapZonesToBlockgroups walks zones (indexed absolutely, matching §9's
// "index list into the zone array" design note) starting from startIdx,
// assigning each blockgroup the list of zone indices it overlaps. startIdx
// lets Refresh skip straight to the freshly re-read span instead of
// rescanning zones before it.
func mapZonesToBlockgroups(zones []device.Zone, startIdx int, bgs []Blockgroup) (int, error) {
	zoneStartIdx := startIdx
	for i := range bgs {
		bg := &bgs[i]
		bg.Zones = nil
		bgEnd := bg.Sector + bg.NrSectors

		j := startIdx
		if zoneStartIdx > startIdx+1 {
			j = zoneStartIdx - 1
		}
		for ; j < len(zones); j++ {
			zEnd := zones[j].Start + zones[j].Length

			if zEnd <= bg.Sector {
				zoneStartIdx = j + 1
				continue
			}
			if zones[j].Start >= bgEnd {
				break
			}

			bg.Zones = append(bg.Zones, j)
			if len(bg.Zones) > MaxZonesPerBlockgroup {
				return 0, zonarerr.Invalid("too many zones in blockgroup %d", i)
			}
		}

		if len(bg.Zones) == 0 {
			return 0, zonarerr.Invalid("no zones mapped to blockgroup %d", i)
		}

		first := zones[bg.Zones[0]]
		bg.Flags = first.Type
		if first.Type == device.ZoneTypeSeqWriteReq {
			bg.WPSector = first.WP - bg.Sector
		} else {
			bg.WPSector = 0
		}
	}

	return len(bgs), nil
}
