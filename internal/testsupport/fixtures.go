package testsupport

import "boqmatch/internal/catalog"

// Fixture codes are written in Czech, the default working language.
const (
	CodeConcreteC2530   = "231-001"
	CodeConcreteC3037   = "231-002"
	CodeFormwork        = "231-010"
	CodeReinforcement   = "231-020"
	CodeLoadBearingWall = "311-001"
	CodePartitionWall   = "311-002"
	CodeWallPlaster     = "612-001"
	CodeCeilingPlaster  = "612-002"
	CodeTiles           = "771-001"
	CodeScreed          = "771-002"
	CodeExcavation      = "131-001"
	CodeBackfill        = "174-001"
)

// CatalogCodes returns a small catalog spanning five sections.
func CatalogCodes() []catalog.Code {
	return []catalog.Code{
		{Code: CodeConcreteC2530, Name: "Beton základů C25/30", Unit: "m3", Section: "foundations"},
		{Code: CodeConcreteC3037, Name: "Beton základů C30/37", Unit: "m3", Section: "foundations"},
		{Code: CodeFormwork, Name: "Bednění základů zřízení", Unit: "m2", Section: "foundations"},
		{Code: CodeReinforcement, Name: "Výztuž základů z betonářské oceli", Unit: "t", Section: "foundations"},
		{Code: CodeLoadBearingWall, Name: "Zdivo nosné z cihel plných", Unit: "m3", Section: "masonry"},
		{Code: CodePartitionWall, Name: "Zdivo příček z pórobetonových tvárnic", Unit: "m2", Section: "masonry"},
		{Code: CodeWallPlaster, Name: "Omítka vápenocementová stěn vnitřních", Unit: "m2", Section: "plaster"},
		{Code: CodeCeilingPlaster, Name: "Omítka stropů sádrová", Unit: "m2", Section: "plaster"},
		{Code: CodeTiles, Name: "Dlažba keramická do lepidla", Unit: "m2", Section: "floors"},
		{Code: CodeScreed, Name: "Potěr cementový podlah", Unit: "m2", Section: "floors"},
		{Code: CodeExcavation, Name: "Hloubení jam v hornině", Unit: "m3", Section: "earthworks"},
		{Code: CodeBackfill, Name: "Zásyp jam zhutněný", Unit: "m3", Section: "earthworks"},
	}
}

// Sections returns the distinct sections of CatalogCodes.
func Sections() []string {
	return []string{"earthworks", "floors", "foundations", "masonry", "plaster"}
}
