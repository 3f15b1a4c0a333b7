package export

import (
	"encoding/xml"
	"io"
	"sort"
	"strconv"

	"github.com/brunobiangulo/graphmend/graph"
)

// GraphML structures (simplified)
type graphmlDoc struct {
	XMLName xml.Name     `xml:"graphml"`
	XMLNS   string       `xml:"xmlns,attr"`
	Keys    []graphmlKey `xml:"key"`
	Graph   graphmlGraph `xml:"graph"`
}

type graphmlKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
	AttrType string `xml:"attr.type,attr"`
}

type graphmlGraph struct {
	ID          string        `xml:"id,attr"`
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphmlNode `xml:"node"`
	Edges       []graphmlEdge `xml:"edge"`
}

type graphmlNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphmlData `xml:"data"`
}

type graphmlEdge struct {
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphmlData `xml:"data"`
}

type graphmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// GraphML renders the snapshot as a GraphML document. Every connection
// keeps its edge: when an endpoint was never extracted, a placeholder
// node stands in for it and the edge carries a pending flag, so graph
// tools can lay out the incomplete region instead of dropping it.
func GraphML(w io.Writer, snap graph.Snapshot) error {
	doc := graphmlDoc{
		XMLNS: "http://graphml.graphdrawing.org/xmlns",
		Keys: []graphmlKey{
			{ID: "type", For: "node", AttrName: "type", AttrType: "string"},
			{ID: "name", For: "node", AttrName: "name", AttrType: "string"},
			{ID: "placeholder", For: "node", AttrName: "placeholder", AttrType: "boolean"},
			{ID: "relation", For: "edge", AttrName: "relation", AttrType: "string"},
			{ID: "confidence", For: "edge", AttrName: "confidence", AttrType: "double"},
			{ID: "pass", For: "edge", AttrName: "pass", AttrType: "string"},
			{ID: "pending", For: "edge", AttrName: "pending", AttrType: "boolean"},
		},
		Graph: graphmlGraph{ID: "G", EdgeDefault: "directed"},
	}

	// One key per distinct attribute name, stable order.
	for _, name := range attrNames(snap.Entities) {
		doc.Keys = append(doc.Keys, graphmlKey{
			ID: "attr_" + name, For: "node", AttrName: name, AttrType: "string",
		})
	}

	known := make(map[string]bool, len(snap.Entities))
	for _, e := range snap.Entities {
		known[e.ID] = true
		node := graphmlNode{ID: e.ID, Data: []graphmlData{
			{Key: "type", Value: e.Type},
			{Key: "name", Value: e.Name},
		}}
		for _, k := range sortedKeys(e.Attrs) {
			node.Data = append(node.Data, graphmlData{Key: "attr_" + k, Value: e.Attrs[k]})
		}
		doc.Graph.Nodes = append(doc.Graph.Nodes, node)
	}

	// Placeholder nodes for endpoints only pending connections name.
	for _, c := range snap.Connections {
		for _, end := range []string{c.Source, c.Target} {
			if known[end] {
				continue
			}
			known[end] = true
			doc.Graph.Nodes = append(doc.Graph.Nodes, graphmlNode{
				ID: end,
				Data: []graphmlData{
					{Key: "name", Value: end},
					{Key: "placeholder", Value: "true"},
				},
			})
		}
	}

	for _, c := range snap.Connections {
		edge := graphmlEdge{Source: c.Source, Target: c.Target, Data: []graphmlData{
			{Key: "relation", Value: c.Relation},
			{Key: "confidence", Value: strconv.FormatFloat(c.Confidence, 'f', -1, 64)},
			{Key: "pass", Value: c.Pass},
		}}
		if c.Pending {
			edge.Data = append(edge.Data, graphmlData{Key: "pending", Value: "true"})
		}
		doc.Graph.Edges = append(doc.Graph.Edges, edge)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return enc.Encode(doc)
}

func attrNames(entities []graph.Entity) []string {
	seen := make(map[string]bool)
	for _, e := range entities {
		for k := range e.Attrs {
			seen[k] = true
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
