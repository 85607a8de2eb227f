package cardcompositor

// glyphs is a minimal embedded 5x7 bitmap font covering the ASCII
// subset the price tag, discount badge, and watermark actually need
// (digits, a handful of letters, and punctuation). No font-rendering
// library exists anywhere in the retrieved corpus (see design notes),
// so text is rasterised from this fixed bitmap instead of a real
// typeface — full glyph coverage (in particular Cyrillic) is
// therefore out of scope; captions carrying Cyrillic text are
// rendered by the Broadcast/Mirror publishers as plain message text,
// never burned into the card image.
var glyphs = map[rune][5]uint8{
	'0': {0x1F, 0x11, 0x11, 0x11, 0x1F},
	'1': {0x00, 0x12, 0x1F, 0x10, 0x00},
	'2': {0x19, 0x15, 0x15, 0x15, 0x12},
	'3': {0x11, 0x15, 0x15, 0x15, 0x0A},
	'4': {0x07, 0x04, 0x04, 0x1F, 0x04},
	'5': {0x17, 0x15, 0x15, 0x15, 0x09},
	'6': {0x0E, 0x15, 0x15, 0x15, 0x08},
	'7': {0x01, 0x01, 0x19, 0x05, 0x03},
	'8': {0x0A, 0x15, 0x15, 0x15, 0x0A},
	'9': {0x02, 0x15, 0x15, 0x15, 0x0E},
	'%': {0x18, 0x19, 0x04, 0x13, 0x03},
	'-': {0x04, 0x04, 0x04, 0x04, 0x04},
	'>': {0x04, 0x0A, 0x11, 0x0A, 0x04},
	'.': {0x00, 0x00, 0x18, 0x18, 0x00},
	' ': {0x00, 0x00, 0x00, 0x00, 0x00},
	'K': {0x1F, 0x04, 0x0A, 0x11, 0x00},
	'G': {0x0E, 0x11, 0x15, 0x15, 0x16},
	'S': {0x12, 0x15, 0x15, 0x15, 0x09},
	'T': {0x01, 0x01, 0x1F, 0x01, 0x01},
	'U': {0x0F, 0x10, 0x10, 0x10, 0x0F},
	'L': {0x1F, 0x10, 0x10, 0x10, 0x10},
	'P': {0x1F, 0x05, 0x05, 0x05, 0x02},
	'A': {0x1E, 0x05, 0x05, 0x05, 0x1E},
	'R': {0x1F, 0x05, 0x0D, 0x15, 0x02},
	'E': {0x1F, 0x15, 0x15, 0x15, 0x11},
	'X': {0x11, 0x0A, 0x04, 0x0A, 0x11},
	'p': {0x1F, 0x05, 0x05, 0x05, 0x02},
	's': {0x12, 0x15, 0x15, 0x15, 0x09},
	':': {0x00, 0x0A, 0x00, 0x0A, 0x00},
}
