// Package cosmetics allocates player ids, lobby codes, colors and skins.
package cosmetics

import (
	crand "crypto/rand"
	"math/big"
	"math/rand"
	"regexp"
	"slices"
	"strings"

	"github.com/aryansinha9/irl-among-us/models"
	"github.com/google/uuid"
)

const (
	// CodeLength is the length of a lobby code.
	CodeLength = 4
	codeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var codePattern = regexp.MustCompile(`^[A-Z]{4}$`)

// Palette holds the avatar tints. None of them hint at a role.
var Palette = []string{
	"#dc2626", // red
	"#2563eb", // blue
	"#16a34a", // green
	"#d946ef", // pink
	"#f97316", // orange
	"#eab308", // yellow
	"#7c3aed", // violet
	"#db2777", // magenta
	"#0891b2", // cyan
	"#84cc16", // lime
	"#78716c", // stone
	"#f43f5e", // rose
}

// HostSkins are offered to the host when creating a lobby.
var HostSkins = []string{
	"char_1", "char_2", "char_3", "char_4", "char_5", "char_6", "char_7", "char_8",
	"char_14", "char_15", "char_20", "char_22", "char_23",
}

// PlayerSkins are offered to joining players.
var PlayerSkins = []string{
	"char_9", "char_10", "char_11", "char_12", "char_13",
	"char_16", "char_17", "char_18", "char_19", "char_21",
}

// NewPlayerID allocates a player id.
func NewPlayerID() string {
	return uuid.New().String()
}

// GenerateCode creates a random lobby code. Uniqueness is best effort.
func GenerateCode() string {
	code := make([]byte, CodeLength)
	for i := range code {
		n, err := crand.Int(crand.Reader, big.NewInt(int64(len(codeChars))))
		if err != nil {
			code[i] = codeChars[rand.Intn(len(codeChars))]
			continue
		}
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}

// NormalizeCode canonicalizes user input before lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code (already normalized) is well formed.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// PickColor returns a palette color not in taken. When the palette is
// exhausted it hands out a random reused color instead of failing.
func PickColor(rng *rand.Rand, taken []string) (color string, reused bool) {
	available := make([]string, 0, len(Palette))
	for _, c := range Palette {
		if !slices.Contains(taken, c) {
			available = append(available, c)
		}
	}
	if len(available) == 0 {
		return Palette[rng.Intn(len(Palette))], true
	}
	return available[rng.Intn(len(available))], false
}

// SkinImage maps a skin id to the stored characterImage path.
func SkinImage(skin string) string {
	return "/characters/" + skin + ".png"
}

// SkinFromImage is the inverse of SkinImage.
func SkinFromImage(image string) string {
	name := image
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, ".png")
}

// KnownSkin reports whether skin belongs to either pool.
func KnownSkin(skin string) bool {
	return slices.Contains(HostSkins, skin) || slices.Contains(PlayerSkins, skin)
}

// SkinTaken reports whether another player in the lobby already wears skin.
func SkinTaken(players map[string]*models.Player, skin string) bool {
	image := SkinImage(skin)
	for _, p := range players {
		if p.CharacterImage == image {
			return true
		}
	}
	return false
}

// TakenColors lists the colors currently in use.
func TakenColors(players map[string]*models.Player) []string {
	colors := make([]string, 0, len(players))
	for _, p := range players {
		colors = append(colors, p.Color)
	}
	return colors
}

// TakenSkins lists the skin ids currently in use.
func TakenSkins(players map[string]*models.Player) []string {
	skins := make([]string, 0, len(players))
	for _, p := range players {
		skins = append(skins, SkinFromImage(p.CharacterImage))
	}
	return skins
}
