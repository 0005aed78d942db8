package dto

// EntryResponse is returned by GET /v1/entries/*name.
// The value is plaintext and must only travel over HTTPS in production.
type EntryResponse struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ListEntriesResponse is returned by GET /v1/entries.
type ListEntriesResponse struct {
	Data []string `json:"data"`
}

// MapEntryToResponse builds the response for a decrypted value.
func MapEntryToResponse(name string, value []byte) EntryResponse {
	return EntryResponse{
		Name:  name,
		Value: string(value),
	}
}

// MapNamesToListResponse builds the list response. A nil slice is rendered as [].
func MapNamesToListResponse(names []string) ListEntriesResponse {
	if names == nil {
		names = []string{}
	}
	return ListEntriesResponse{Data: names}
}
