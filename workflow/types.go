package workflow

// Node is one processing node in a ComfyUI API-format graph. Inputs holds
// both widget values and [nodeID, slot] links; only widget values are ever
// substituted.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      *NodeMeta      `json:"_meta,omitempty"`
}

type NodeMeta struct {
	Title string `json:"title"`
}

// Graph is a full job graph keyed by node id, as submitted to /prompt.
type Graph map[string]Node

// Params are the placeholder values substituted into a template.
type Params struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	Seed           int64
}

// slots records which node ids carry each placeholder, resolved once at load.
type slots struct {
	positive []string
	negative []string
	sampler  []string
	latent   []string
}
