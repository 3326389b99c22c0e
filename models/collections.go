package models

// Catalog is a VOD catalog grouped by content owner.
type Catalog struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Cover string `json:"cover"`
}

// Genre is a VOD genre collection. Query is the backend query string that
// lists the assets in this genre.
type Genre struct {
	Title string `json:"title"`
	Query string `json:"query"`
}

// Season is one season of a VOD series. Query lists its episodes.
type Season struct {
	Title string `json:"title"`
	Query string `json:"query"`
}
