package qflash

// vendor captures what differs between supported flash manufacturers: how
// the JEDEC density code maps to 16 MiB sector count, and which program
// command the part takes. The set is fixed; identification picks one entry
// and the profile is read-only afterwards.
type vendor struct {
	id      byte
	name    string
	sectors func(code byte) int
	progCmd byte
}

var vendors = []vendor{
	{0x20, "micron", micronSectors, cmdQuadWrite},
	{0xC2, "macronix", macronixSectors, cmdPageProgram},
}

// micronSectors maps N25Q/MT25Q density codes to 16 MiB sector counts.
// Unrecognized codes map to 0.
func micronSectors(code byte) int {
	switch code {
	case 0x17, 0x18:
		return 1
	case 0x19:
		return 2
	case 0x20:
		return 4
	case 0x21:
		return 8
	case 0x22:
		return 16
	}
	return 0
}

// macronixSectors maps MX25/MX66 density codes 0x38-0x3C to 1, 2, 4, 8 and
// 16 sectors.
func macronixSectors(code byte) int {
	if code < 0x38 || code > 0x3C {
		return 0
	}
	return 1 << (code - 0x38)
}

func lookupVendor(id byte) *vendor {
	for i := range vendors {
		if vendors[i].id == id {
			return &vendors[i]
		}
	}
	return nil
}
