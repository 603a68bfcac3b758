package model

// Asset is an asset registry record. Only Address is guaranteed to be set for
// entries derived from pair data.
type Asset struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol,omitempty"`
	Name     string `json:"name,omitempty"`
	Decimals uint8  `json:"decimals,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`
}

// CustomAsset is a user-added asset not (yet) backed by official pair data.
type CustomAsset struct {
	Network string `json:"network"`
	Asset
	AddedAt string `json:"added_at"`
}
