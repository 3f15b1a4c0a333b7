package export

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/graphmend/graph"
)

// Workbook renders the report as an XLSX workbook with Entities,
// Connections, Gaps, and Attempts sheets. The caller owns the file and
// is responsible for SaveAs/WriteTo and Close.
func Workbook(rep Report) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := writeEntitiesSheet(f, rep.Graph.Entities); err != nil {
		f.Close()
		return nil, fmt.Errorf("entities sheet: %w", err)
	}
	if err := writeConnectionsSheet(f, rep.Graph.Connections); err != nil {
		f.Close()
		return nil, fmt.Errorf("connections sheet: %w", err)
	}
	if err := writeGapsSheet(f, rep.Gaps); err != nil {
		f.Close()
		return nil, fmt.Errorf("gaps sheet: %w", err)
	}
	if err := writeAttemptsSheet(f, rep.Attempts); err != nil {
		f.Close()
		return nil, fmt.Errorf("attempts sheet: %w", err)
	}

	// Drop the default sheet excelize starts with.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, err
	}
	idx, err := f.GetSheetIndex("Entities")
	if err != nil {
		f.Close()
		return nil, err
	}
	f.SetActiveSheet(idx)

	return f, nil
}

func writeEntitiesSheet(f *excelize.File, entities []graph.Entity) error {
	const sheet = "Entities"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	header := []interface{}{"ID", "Name", "Type", "Attributes", "Passes", "Overwrites"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, e := range entities {
		row := []interface{}{
			e.ID, e.Name, e.Type,
			attrsCell(e.Attrs),
			strings.Join(e.Passes, ", "),
			len(e.History),
		}
		if err := setRow(f, sheet, i+2, &row); err != nil {
			return err
		}
	}
	return nil
}

func writeConnectionsSheet(f *excelize.File, conns []graph.Connection) error {
	const sheet = "Connections"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	header := []interface{}{"Source", "Relation", "Target", "Confidence", "Pass", "Pending", "Attributes"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, c := range conns {
		row := []interface{}{
			c.Source, c.Relation, c.Target,
			c.Confidence, c.Pass, c.Pending,
			attrsCell(c.Attrs),
		}
		if err := setRow(f, sheet, i+2, &row); err != nil {
			return err
		}
	}
	return nil
}

func writeGapsSheet(f *excelize.File, gaps []graph.Gap) error {
	const sheet = "Gaps"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	header := []interface{}{"ID", "Kind", "Status", "Entity", "Other", "Missing Relation",
		"Source", "Relation", "Target", "Similarity", "Reason"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, g := range gaps {
		row := []interface{}{
			g.ID, string(g.Kind), string(g.Status),
			g.EntityID, g.OtherID, g.MissingRelation,
			g.Source, g.Relation, g.Target,
			g.Similarity, g.Reason,
		}
		if err := setRow(f, sheet, i+2, &row); err != nil {
			return err
		}
	}
	return nil
}

func writeAttemptsSheet(f *excelize.File, attempts []AttemptSummary) error {
	const sheet = "Attempts"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	header := []interface{}{"Seq", "Kind", "Outcome", "Detail", "Gap IDs",
		"Entities Added", "Connections Added", "Elapsed (ms)"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, a := range attempts {
		row := []interface{}{
			a.Seq, a.Kind, string(a.Outcome), a.Detail,
			strings.Join(a.GapIDs, ", "),
			a.Merged.EntitiesAdded, a.Merged.ConnectionsAdded,
			a.ElapsedMs,
		}
		if err := setRow(f, sheet, i+2, &row); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, rowNum int, row *[]interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, row)
}

// attrsCell renders attributes as "key=value; key=value", keys sorted.
func attrsCell(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, k := range sortedKeys(attrs) {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(attrs[k])
	}
	return b.String()
}
