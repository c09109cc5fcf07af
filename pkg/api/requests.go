package api

// CreateServerRequest asks the fleet for one new VPN server
type CreateServerRequest struct {
	Provider string `json:"provider"`
	Region   string `json:"region"`
	Plan     string `json:"plan"`
}

// AddPeerRequest adds one named peer to a server
type AddPeerRequest struct {
	Name string `json:"name"`
}
