package bsky

// Lexicon type identifiers used when decoding unions.
const (
	TypeFeedPost        = "app.bsky.feed.post"
	TypeEmbedImagesView = "app.bsky.embed.images#view"
)

// LabelNoUnauthenticated marks accounts that only want signed-in viewers.
const LabelNoUnauthenticated = "!no-unauthenticated"

// Label is a moderation or self-applied label on an account or post.
type Label struct {
	Src string `json:"src,omitempty"`
	Val string `json:"val"`
}

// ProfileViewBasic is the compact author view returned with posts.
type ProfileViewBasic struct {
	DID         string  `json:"did"`
	Handle      string  `json:"handle"`
	DisplayName string  `json:"displayName,omitempty"`
	Avatar      string  `json:"avatar,omitempty"`
	Labels      []Label `json:"labels,omitempty"`
}

// RequiresAuthentication reports whether the account asked to be hidden
// from logged-out viewers.
func (p ProfileViewBasic) RequiresAuthentication() bool {
	for _, label := range p.Labels {
		if label.Val == LabelNoUnauthenticated {
			return true
		}
	}
	return false
}

// Name returns the display name, falling back to the handle.
func (p ProfileViewBasic) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Handle
}

// AspectRatio is the width/height hint attached to uploaded images.
type AspectRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ViewImage is a single image attached to a post, with CDN URLs.
type ViewImage struct {
	Thumb       string       `json:"thumb"`
	Fullsize    string       `json:"fullsize"`
	Alt         string       `json:"alt,omitempty"`
	AspectRatio *AspectRatio `json:"aspectRatio,omitempty"`
}

// EmbedView is the post embed union. Only the images variant is handled;
// the $type field tells callers which variant they got.
type EmbedView struct {
	Type   string      `json:"$type"`
	Images []ViewImage `json:"images,omitempty"`
}

// PostRecord is the authored content of a feed post.
type PostRecord struct {
	Type      string   `json:"$type"`
	Text      string   `json:"text"`
	CreatedAt string   `json:"createdAt,omitempty"`
	Langs     []string `json:"langs,omitempty"`
}

// PostView is a hydrated post as returned by app.bsky.feed.getPosts.
type PostView struct {
	URI    string           `json:"uri"`
	CID    string           `json:"cid"`
	Author ProfileViewBasic `json:"author"`
	Record PostRecord       `json:"record"`
	Embed  *EmbedView       `json:"embed,omitempty"`
	Labels []Label          `json:"labels,omitempty"`
}

type sessionResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
}

type resolveHandleResponse struct {
	DID string `json:"did"`
}

type getPostsResponse struct {
	Posts []PostView `json:"posts"`
}
