package topology

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// kindToType is the fixed kind->type table (spec.md §4.7), grounded on the
// original containerlab_parser.py's KIND_TO_TYPE.
var kindToType = map[string]NodeType{
	"srl":           NodeRouter,
	"nokia_srlinux": NodeRouter,
	"ceos":          NodeRouter,
	"arista_ceos":   NodeRouter,
	"vr-sros":       NodeRouter,
	"crpd":          NodeRouter,
	"frr":           NodeRouter,
	"linux":         NodeHost,
	"bridge":        NodeSwitch,
	"ovs-bridge":    NodeSwitch,
}

// Parser is C7: turns containerlab-style topology YAML into lab-prefixed
// nodes and links.
type Parser struct {
	log *logrus.Entry
}

func NewParser(log *logrus.Entry) *Parser {
	if log == nil {
		log = logrus.WithField("component", "topology-parser")
	}
	return &Parser{log: log}
}

// Parse reads the bare `topology:` document form (spec.md §4.7).
func (p *Parser) Parse(yamlContent string, labName string) ([]Node, []Link, error) {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(yamlContent), &doc); err != nil {
		return nil, nil, fmt.Errorf("invalid yaml: %w", err)
	}

	topologyRaw, ok := doc["topology"]
	if !ok {
		return nil, nil, fmt.Errorf("missing topology section")
	}
	topo, ok := topologyRaw.(map[string]any)
	if !ok || len(topo) == 0 {
		return nil, nil, fmt.Errorf("missing topology section")
	}

	nodes := p.parseNodes(topo, labName)
	links := p.parseLinks(topo, labName)
	return nodes, links, nil
}

// ParseWrapper extracts name/namespace/containerlab YAML from the
// `spec.definition.containerlab` CRD wrapper form (spec.md §4.7 variant,
// §4.10, §9). The caller-supplied name/namespace (if non-empty) override
// values taken from the wrapper.
func (p *Parser) ParseWrapper(wrapperYAML string, overrideName, overrideNamespace string) (name, namespace, containerlabYAML string, err error) {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(wrapperYAML), &doc); err != nil {
		return "", "", "", fmt.Errorf("invalid wrapper yaml: %w", err)
	}

	metadata, _ := doc["metadata"].(map[string]any)
	name, _ = metadata["name"].(string)
	namespace, _ = metadata["namespace"].(string)
	if namespace == "" {
		namespace = "clab"
	}
	if overrideName != "" {
		name = overrideName
	}
	if overrideNamespace != "" {
		namespace = overrideNamespace
	}

	spec, _ := doc["spec"].(map[string]any)
	definition, _ := spec["definition"].(map[string]any)
	containerlabYAML, _ = definition["containerlab"].(string)
	if containerlabYAML == "" {
		return "", "", "", fmt.Errorf("no containerlab definition found in wrapper")
	}

	return name, namespace, containerlabYAML, nil
}

func (p *Parser) parseNodes(topo map[string]any, labName string) []Node {
	nodesSection, _ := topo["nodes"].(map[string]any)
	nodes := make([]Node, 0, len(nodesSection))

	for nodeName, raw := range nodesSection {
		cfg, _ := raw.(map[string]any)
		if cfg == nil {
			cfg = map[string]any{}
		}
		kind, _ := cfg["kind"].(string)
		if kind == "" {
			kind = "linux"
		}
		nodeType, ok := kindToType[kind]
		if !ok {
			nodeType = NodeHost
		}
		image, _ := cfg["image"].(string)
		platform := detectPlatform(kind, image)

		nodes = append(nodes, Node{
			ID:       labName + "/" + nodeName,
			Lab:      labName,
			Label:    nodeName,
			Type:     nodeType,
			Status:   "unknown",
			Platform: platform,
			Metadata: map[string]string{
				"kind":          kind,
				"image":         image,
				"original_name": nodeName,
			},
		})
	}

	p.log.WithField("count", len(nodes)).Info("parsed topology nodes")
	return nodes
}

func (p *Parser) parseLinks(topo map[string]any, labName string) []Link {
	linksRaw, _ := topo["links"].([]any)
	links := make([]Link, 0, len(linksRaw))
	pairOrdinal := make(map[string]int)

	for idx, raw := range linksRaw {
		cfg, _ := raw.(map[string]any)
		if cfg == nil {
			p.log.WithField("index", idx).Warn("skipping invalid link: not a mapping")
			continue
		}
		endpointsRaw, _ := cfg["endpoints"].([]any)
		if len(endpointsRaw) != 2 {
			p.log.WithField("index", idx).Warn("skipping invalid link: expected 2 endpoints")
			continue
		}

		srcNode, srcIface, ok1 := parseEndpoint(endpointsRaw[0])
		dstNode, dstIface, ok2 := parseEndpoint(endpointsRaw[1])
		if !ok1 || !ok2 {
			p.log.WithField("index", idx).Warn("skipping invalid link: malformed endpoint")
			continue
		}

		pairKey := srcNode + "|" + dstNode
		linkID := fmt.Sprintf("%s/%s-%s", labName, srcNode, dstNode)
		if n := pairOrdinal[pairKey]; n > 0 {
			linkID = fmt.Sprintf("%s-%d", linkID, n)
		}
		pairOrdinal[pairKey]++

		links = append(links, Link{
			ID:           linkID,
			Lab:          labName,
			SourceNodeID: labName + "/" + srcNode,
			TargetNodeID: labName + "/" + dstNode,
			SourceIface:  srcIface,
			TargetIface:  dstIface,
			State:        LinkUnknown,
			Metadata: map[string]string{
				"original_endpoints": fmt.Sprintf("%v", endpointsRaw),
			},
		})
	}

	p.log.WithField("count", len(links)).Info("parsed topology links")
	return links
}

// parseEndpoint splits a "node:iface" endpoint string. Endpoints lacking a
// colon, or with either side empty, are invalid (spec.md §4.7).
func parseEndpoint(raw any) (node, iface string, ok bool) {
	s, _ := raw.(string)
	idx := strings.Index(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

func detectPlatform(kind, image string) string {
	lowerImage := strings.ToLower(image)
	switch {
	case kind == "srl" || kind == "nokia_srlinux" || strings.Contains(lowerImage, "srlinux"):
		return "srlinux"
	case kind == "ceos" || kind == "arista_ceos" || strings.Contains(lowerImage, "ceos"):
		return "ceos"
	case kind == "frr" || strings.Contains(lowerImage, "frr"):
		return "frr"
	case strings.Contains(lowerImage, "iperf"):
		return "iperf"
	default:
		return kind
	}
}
