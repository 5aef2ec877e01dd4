package nwb

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Attrs are the attributes of a group or dataset. Values are string,
// []string, float64, []float64, int64, []int64 or bool.
type Attrs map[string]any

// Node is an element of the on-disk hierarchy.
type Node interface {
	NodeName() string
}

// Group is a named container of nodes.
type Group struct {
	Name     string
	Attrs    Attrs
	Children []Node
}

// DatasetNode is an array with attributes.
type DatasetNode struct {
	Name  string
	Attrs Attrs
	Data  Data
}

// Link is a soft link to an absolute path in the same file.
type Link struct {
	Name   string
	Target string
}

func (g *Group) NodeName() string       { return g.Name }
func (d *DatasetNode) NodeName() string { return d.Name }
func (l *Link) NodeName() string        { return l.Name }

func (g *Group) add(n ...Node) { g.Children = append(g.Children, n...) }

// Child returns the direct child with the given name.
func (g *Group) Child(name string) (Node, bool) {
	for _, c := range g.Children {
		if c.NodeName() == name {
			return c, true
		}
	}
	return nil, false
}

// Lookup resolves a slash-separated path relative to g. Links are not followed.
func (g *Group) Lookup(path string) (Node, bool) {
	var cur Node = g
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		grp, ok := cur.(*Group)
		if !ok {
			return nil, false
		}
		if cur, ok = grp.Child(part); !ok {
			return nil, false
		}
	}
	return cur, true
}

// refs is a dataset of absolute object paths.
type refs []string

func (r refs) DType() DType { return Ref }
func (r refs) Shape() []int { return []int{len(r)} }
func (r refs) Slice(start, end int) (any, error) {
	if start < 0 || end > len(r) || start > end {
		return nil, fmt.Errorf("rows [%d, %d) out of range for %d rows", start, end, len(r))
	}
	return []string(r[start:end]), nil
}

type regionFixup struct {
	attrs  Attrs
	owner  string
	target *Table
}

type layoutCtx struct {
	tables map[*Table]string
	fixups []regionFixup
}

func typed(ntype, namespace string, extra Attrs) Attrs {
	a := Attrs{
		"neurodata_type": ntype,
		"namespace":      namespace,
		"object_id":      uuid.NewString(),
	}
	for k, v := range extra {
		a[k] = v
	}
	return a
}

func text(name, value string) *DatasetNode {
	return &DatasetNode{Name: name, Attrs: Attrs{}, Data: Scalar(value)}
}

func isoTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func lowerTimeSeries(ts *TimeSeries, ntype, namespace string) (*Group, error) {
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	g := &Group{Name: ts.Name, Attrs: typed(ntype, namespace, Attrs{
		"description": orDefault(ts.Description, "no description"),
		"comments":    orDefault(ts.Comments, "no comments"),
	})}
	g.add(&DatasetNode{Name: "data", Data: ts.Data, Attrs: seriesDataAttrs(ts)})
	g.add(clockNodes(ts)...)
	return g, nil
}

func seriesDataAttrs(ts *TimeSeries) Attrs {
	conversion := ts.Conversion
	if conversion == 0 {
		conversion = 1
	}
	return Attrs{
		"unit":       orDefault(ts.Unit, "n.a."),
		"conversion": conversion,
		"offset":     ts.Offset,
		"resolution": -1.0,
	}
}

func clockNodes(ts *TimeSeries) []Node {
	if ts.Timestamps != nil {
		return []Node{&DatasetNode{Name: "timestamps", Data: ts.Timestamps, Attrs: Attrs{"interval": int64(1), "unit": "seconds"}}}
	}
	return []Node{&DatasetNode{Name: "starting_time", Data: Scalar(ts.StartingTime), Attrs: Attrs{"rate": ts.Rate, "unit": "seconds"}}}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (ts *TimeSeries) lower(_ *layoutCtx, _ string) (Node, error) {
	return lowerTimeSeries(ts, "TimeSeries", "core")
}

func (o *OptogeneticSeries) lower(_ *layoutCtx, _ string) (Node, error) {
	if o.Site == nil {
		return nil, fmt.Errorf("optogenetic series %q has no site", o.Name)
	}
	g, err := lowerTimeSeries(&o.TimeSeries, "OptogeneticSeries", "core")
	if err != nil {
		return nil, err
	}
	g.add(&Link{Name: "site", Target: ogenSitePath(o.Site.Name)})
	return g, nil
}

func (e *ElectricalSeries) lower(ctx *layoutCtx, _ string) (Node, error) {
	g, err := lowerTimeSeries(&e.TimeSeries, "ElectricalSeries", "core")
	if err != nil {
		return nil, err
	}
	idx := make([]int64, len(e.Electrodes))
	for i, v := range e.Electrodes {
		idx[i] = int64(v)
	}
	region := &DatasetNode{Name: "electrodes", Data: Vector(idx), Attrs: typed("DynamicTableRegion", "hdmf-common", Attrs{
		"description": "the electrodes that generated this electrical series",
		"table":       "/general/extracellular_ephys/electrodes",
	})}
	g.add(region)
	if len(e.ChannelConversion) > 0 {
		g.add(&DatasetNode{Name: "channel_conversion", Data: Vector(e.ChannelConversion), Attrs: Attrs{"axis": int64(1)}})
	}
	return g, nil
}

// Validate checks the external file list and the clock.
func (s *ImageSeries) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("image series without a name")
	}
	if len(s.ExternalFile) == 0 {
		return fmt.Errorf("image series %q has no external files", s.Name)
	}
	if len(s.StartingFrame) != len(s.ExternalFile) {
		return fmt.Errorf("image series %q has %d starting frames for %d files", s.Name, len(s.StartingFrame), len(s.ExternalFile))
	}
	if s.Timestamps == nil && s.Rate <= 0 {
		return fmt.Errorf("image series %q needs timestamps or a positive rate", s.Name)
	}
	return nil
}

func (s *ImageSeries) lower(_ *layoutCtx, _ string) (Node, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	g := &Group{Name: s.Name, Attrs: typed("ImageSeries", "core", Attrs{
		"description": orDefault(s.Description, "no description"),
		"comments":    orDefault(s.Comments, "no comments"),
	})}
	frames := make([]int64, len(s.StartingFrame))
	for i, v := range s.StartingFrame {
		frames[i] = int64(v)
	}
	g.add(&DatasetNode{Name: "external_file", Data: Vector(s.ExternalFile), Attrs: Attrs{"starting_frame": frames}})
	g.add(text("format", "external"))
	g.add(clockNodes(&s.TimeSeries)...)
	if s.Device != nil {
		g.add(&Link{Name: "device", Target: devicePath(s.Device.Name)})
	}
	return g, nil
}

func (b *BehavioralTimeSeries) lower(ctx *layoutCtx, path string) (Node, error) {
	g := &Group{Name: b.Name, Attrs: typed("BehavioralTimeSeries", "core", nil)}
	for _, ts := range b.Series {
		n, err := ts.lower(ctx, path+"/"+ts.Name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name, err)
		}
		g.add(n)
	}
	return g, nil
}

func (e *Events) lower(_ *layoutCtx, _ string) (Node, error) {
	g := &Group{Name: e.Name, Attrs: typed("Events", "ndx-events", Attrs{"description": orDefault(e.Description, "no description")})}
	g.add(&DatasetNode{Name: "timestamps", Data: Vector(e.Timestamps), Attrs: Attrs{"unit": "seconds", "resolution": -1.0}})
	return g, nil
}

func (im *Images) lower(_ *layoutCtx, _ string) (Node, error) {
	g := &Group{Name: im.Name, Attrs: typed("Images", "core", Attrs{"description": orDefault(im.Description, "no description")})}
	for _, img := range im.Images {
		kind := "GrayscaleImage"
		if img.RGB() {
			kind = "RGBImage"
		}
		g.add(&DatasetNode{Name: img.Name, Data: img.Data, Attrs: typed(kind, "core", Attrs{"description": orDefault(img.Description, "no description")})})
	}
	return g, nil
}

func (p *PoseEstimation) lower(ctx *layoutCtx, path string) (Node, error) {
	g := &Group{Name: p.Name, Attrs: typed("PoseEstimation", "ndx-pose", Attrs{
		"description":     orDefault(p.Description, "no description"),
		"source_software": p.SourceSoftware,
		"scorer":          p.Scorer,
	})}
	g.add(&DatasetNode{Name: "nodes", Data: Vector(p.Nodes), Attrs: Attrs{}})
	for _, s := range p.Series {
		sg, err := lowerTimeSeries(&s.TimeSeries, "PoseEstimationSeries", "ndx-pose")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		if s.Confidence != nil {
			sg.add(&DatasetNode{Name: "confidence", Data: s.Confidence, Attrs: Attrs{"definition": "point-wise confidence score"}})
		}
		sg.add(text("reference_frame", orDefault(s.ReferenceFrame, "(0,0) is the top-left corner of the frame")))
		g.add(sg)
	}
	for i, d := range p.Devices {
		name := "device"
		if i > 0 {
			name = fmt.Sprintf("device%d", i)
		}
		g.add(&Link{Name: name, Target: devicePath(d.Name)})
	}
	return g, nil
}

func (t *Task) lower(ctx *layoutCtx, path string) (Node, error) {
	g := &Group{Name: "task", Attrs: typed("Task", "ndx-events", nil)}
	if t.EventTypes != nil {
		n, err := t.EventTypes.lower(ctx, path+"/"+t.EventTypes.Name)
		if err != nil {
			return nil, err
		}
		g.add(n)
	}
	return g, nil
}

func (t *Table) lower(ctx *layoutCtx, path string) (Node, error) {
	ctx.tables[t] = path
	colnames := make([]string, len(t.columns))
	for i, c := range t.columns {
		colnames[i] = c.Name
	}
	g := &Group{Name: t.Name, Attrs: typed(t.Type, t.Namespace, Attrs{
		"description": orDefault(t.Description, "no description"),
		"colnames":    colnames,
	})}

	ids := make([]int64, t.rows)
	for i := range ids {
		ids[i] = int64(i)
	}
	g.add(&DatasetNode{Name: "id", Data: Vector(ids), Attrs: typed("ElementIdentifiers", "hdmf-common", nil)})

	for _, c := range t.columns {
		nodes, err := c.lower(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", t.Name, err)
		}
		g.add(nodes...)
	}
	return g, nil
}

func (c *Column) lower(ctx *layoutCtx, tablePath string) ([]Node, error) {
	ntype, ns := "VectorData", "hdmf-common"
	if c.Type != "" {
		ntype = c.Type
		if c.Type == "TimestampVectorData" || c.Type == "DurationVectorData" {
			ns = "ndx-events"
		}
	}
	if c.Target != nil {
		ntype = "DynamicTableRegion"
	}
	attrs := typed(ntype, ns, Attrs{"description": orDefault(c.Description, "no description")})

	if !c.Ragged {
		data, err := c.scalarData()
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		if c.Target != nil {
			ctx.fixups = append(ctx.fixups, regionFixup{attrs: attrs, owner: tablePath + "/" + c.Name, target: c.Target})
		}
		return []Node{&DatasetNode{Name: c.Name, Data: data, Attrs: attrs}}, nil
	}

	var offsets []int64
	var end int64
	var flat Data
	switch c.DType {
	case String:
		var all []string
		for _, cell := range c.cells {
			list := cell.([]string)
			all = append(all, list...)
			end += int64(len(list))
			offsets = append(offsets, end)
		}
		flat = Vector(all)
	default:
		var all []float64
		for _, cell := range c.cells {
			list := cell.([]float64)
			all = append(all, list...)
			end += int64(len(list))
			offsets = append(offsets, end)
		}
		flat = Vector(all)
	}
	index := &DatasetNode{
		Name: c.Name + "_index",
		Data: Vector(offsets),
		Attrs: typed("VectorIndex", "hdmf-common", Attrs{
			"description": fmt.Sprintf("Index for VectorData '%s'", c.Name),
			"target":      tablePath + "/" + c.Name,
		}),
	}
	return []Node{&DatasetNode{Name: c.Name, Data: flat, Attrs: attrs}, index}, nil
}

func (c *Column) scalarData() (Data, error) {
	switch c.DType {
	case Float64, Float32:
		out := make([]float64, len(c.cells))
		for i, v := range c.cells {
			out[i] = v.(float64)
		}
		return Vector(out), nil
	case Int64, Int32, Int16, Uint8, Uint16:
		out := make([]int64, len(c.cells))
		for i, v := range c.cells {
			out[i] = v.(int64)
		}
		return Vector(out), nil
	case Bool:
		out := make([]bool, len(c.cells))
		for i, v := range c.cells {
			out[i] = v.(bool)
		}
		return Vector(out), nil
	case String:
		out := make([]string, len(c.cells))
		for i, v := range c.cells {
			out[i] = v.(string)
		}
		return Vector(out), nil
	case Ref:
		out := make(refs, len(c.cells))
		for i, v := range c.cells {
			out[i] = v.(string)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported dtype %s", c.DType)
}

func lowerAll(ctx *layoutCtx, parent *Group, base string, objects []Object) error {
	for _, o := range objects {
		path := base + "/" + o.ObjectName()
		n, err := o.lower(ctx, path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		parent.add(n)
	}
	return nil
}

// Layout lowers the container to the NWB 2.x group hierarchy. Lazy datasets
// stay lazy; nothing is read until a writer slices them.
func (f *File) Layout() (*Group, error) {
	if f.SessionStartTime.IsZero() {
		return nil, fmt.Errorf("session_start_time is not set")
	}
	ctx := &layoutCtx{tables: make(map[*Table]string)}

	root := &Group{Name: "", Attrs: typed("NWBFile", "core", Attrs{"nwb_version": Version})}
	ref := f.TimestampsReferenceTime
	if ref.IsZero() {
		ref = f.SessionStartTime
	}
	created := f.FileCreateDate
	if created.IsZero() {
		created = time.Now()
	}
	root.add(
		&DatasetNode{Name: "file_create_date", Data: Text(isoTime(created)), Attrs: Attrs{}},
		text("identifier", f.Identifier),
		text("session_description", orDefault(f.SessionDescription, "no description")),
		text("session_start_time", isoTime(f.SessionStartTime)),
		text("timestamps_reference_time", isoTime(ref)),
	)

	acquisition := &Group{Name: "acquisition", Attrs: Attrs{}}
	if err := lowerAll(ctx, acquisition, "/acquisition", f.acquisition); err != nil {
		return nil, err
	}
	analysis := &Group{Name: "analysis", Attrs: Attrs{}}

	processing := &Group{Name: "processing", Attrs: Attrs{}}
	for _, m := range f.processing {
		mg := &Group{Name: m.Name, Attrs: typed("ProcessingModule", "core", Attrs{"description": orDefault(m.Description, "no description")})}
		if err := lowerAll(ctx, mg, "/processing/"+m.Name, m.objects); err != nil {
			return nil, err
		}
		processing.add(mg)
	}

	stimulus := &Group{Name: "stimulus", Attrs: Attrs{}}
	presentation := &Group{Name: "presentation", Attrs: Attrs{}}
	templates := &Group{Name: "templates", Attrs: Attrs{}}
	if err := lowerAll(ctx, presentation, "/stimulus/presentation", f.presentation); err != nil {
		return nil, err
	}
	if err := lowerAll(ctx, templates, "/stimulus/templates", f.templates); err != nil {
		return nil, err
	}
	stimulus.add(presentation, templates)

	general, err := f.lowerGeneral(ctx)
	if err != nil {
		return nil, err
	}

	intervals := &Group{Name: "intervals", Attrs: Attrs{}}
	for _, t := range []*Table{f.trials, f.epochs} {
		if t == nil {
			continue
		}
		n, err := t.lower(ctx, "/intervals/"+t.Name)
		if err != nil {
			return nil, err
		}
		intervals.add(n)
	}

	root.add(acquisition, analysis, processing, stimulus, general, intervals)
	if f.units != nil {
		n, err := f.units.lower(ctx, "/units")
		if err != nil {
			return nil, err
		}
		root.add(n)
	}

	for _, fx := range ctx.fixups {
		p, ok := ctx.tables[fx.target]
		if !ok {
			return nil, fmt.Errorf("%s refers to table %q which is not in the file", fx.owner, fx.target.Name)
		}
		fx.attrs["table"] = p
	}
	return root, nil
}

func (f *File) lowerGeneral(ctx *layoutCtx) (*Group, error) {
	general := &Group{Name: "general", Attrs: Attrs{}}
	optional := []struct{ name, value string }{
		{"session_id", f.SessionID},
		{"institution", f.Institution},
		{"lab", f.Lab},
		{"experiment_description", f.ExperimentDescription},
		{"surgery", f.Surgery},
		{"virus", f.Virus},
		{"pharmacology", f.Pharmacology},
		{"stimulus", f.Stimulus},
		{"notes", f.Notes},
	}
	for _, o := range optional {
		if o.value != "" {
			general.add(text(o.name, o.value))
		}
	}
	for _, list := range []struct {
		name   string
		values []string
	}{{"experimenter", f.Experimenter}, {"keywords", f.Keywords}, {"related_publications", f.RelatedPublications}} {
		if len(list.values) > 0 {
			general.add(&DatasetNode{Name: list.name, Data: Vector(list.values), Attrs: Attrs{}})
		}
	}

	devices := &Group{Name: "devices", Attrs: Attrs{}}
	for _, d := range f.devices {
		attrs := typed("Device", "core", Attrs{"description": orDefault(d.Description, "no description")})
		if d.Manufacturer != "" {
			attrs["manufacturer"] = d.Manufacturer
		}
		devices.add(&Group{Name: d.Name, Attrs: attrs})
	}
	general.add(devices)

	if s := f.Subject; s != nil {
		sg := &Group{Name: "subject", Attrs: typed("Subject", "core", nil)}
		for _, field := range []struct{ name, value string }{
			{"subject_id", s.SubjectID}, {"species", s.Species}, {"sex", s.Sex}, {"age", s.Age},
			{"strain", s.Strain}, {"genotype", s.Genotype}, {"description", s.Description}, {"weight", s.Weight},
		} {
			if field.value != "" {
				sg.add(text(field.name, field.value))
			}
		}
		general.add(sg)
	}

	if len(f.electrodeGroups) > 0 || f.electrodes != nil {
		ecephys := &Group{Name: "extracellular_ephys", Attrs: Attrs{}}
		for _, eg := range f.electrodeGroups {
			g := &Group{Name: eg.Name, Attrs: typed("ElectrodeGroup", "core", Attrs{
				"description": orDefault(eg.Description, "no description"),
				"location":    orDefault(eg.Location, "unknown"),
			})}
			g.add(&Link{Name: "device", Target: devicePath(eg.Device.Name)})
			ecephys.add(g)
		}
		if f.electrodes != nil {
			n, err := f.electrodes.lower(ctx, "/general/extracellular_ephys/electrodes")
			if err != nil {
				return nil, err
			}
			ecephys.add(n)
		}
		general.add(ecephys)
	}

	if len(f.ogenSites) > 0 {
		og := &Group{Name: "optogenetics", Attrs: Attrs{}}
		for _, s := range f.ogenSites {
			g := &Group{Name: s.Name, Attrs: typed("OptogeneticStimulusSite", "core", Attrs{
				"description": orDefault(s.Description, "no description"),
			})}
			g.add(&DatasetNode{Name: "excitation_lambda", Data: Scalar(s.ExcitationLambda), Attrs: Attrs{}})
			g.add(text("location", orDefault(s.Location, "unknown")))
			g.add(&Link{Name: "device", Target: devicePath(s.Device.Name)})
			og.add(g)
		}
		general.add(og)
	}

	if err := lowerAll(ctx, general, "/general", f.labMeta); err != nil {
		return nil, err
	}
	return general, nil
}
