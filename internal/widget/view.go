package widget

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/capitalize-ai/support-widget/internal/model"
)

type refKey struct {
	ref    string
	sender model.Sender
}

type row struct {
	entry Entry
	order int
	at    time.Time
	local bool
}

// slot holds the row indexes an exchange's visitor message and reply
// resolved to, durable or local.
type slot struct {
	visitor int
	reply   int
}

// Render merges a durable snapshot with the pending exchanges into the
// ordered sequence the widget displays. It is a pure function: the same
// inputs always produce the same output.
//
// Durable messages are authoritative. A pending entry is dropped once the
// snapshot holds its durable counterpart, found through the exchange ref or,
// for stores that do not keep refs, through the reconciled reply id. Content
// alone never links a local entry to a durable one.
//
// Local entries are stamped by the widget's clock while durable rows are
// stamped later by the store, so a local entry never sorts before the rows of
// its own exchange's earlier parts or of earlier exchanges.
func Render(snapshot []model.Message, pending []Exchange) []Entry {
	durable := lo.UniqBy(snapshot, func(m model.Message) int64 { return m.ID })

	rows := make([]row, 0, len(durable)+2*len(pending))
	indexByID := make(map[int64]int, len(durable))
	for i, m := range durable {
		indexByID[m.ID] = i
		rows = append(rows, row{entry: entryFromMessage(m), order: len(rows)})
	}

	byRef := make(map[refKey]int)
	for i, m := range durable {
		if m.ClientRef == "" {
			continue
		}
		key := refKey{ref: m.ClientRef, sender: m.Sender}
		if _, ok := byRef[key]; !ok {
			byRef[key] = i
		}
	}
	claimed := make(map[int]bool)

	slots := make([]slot, 0, len(pending))
	for _, ex := range pending {
		var sl slot
		if i, ok := visitorCounterpart(ex, durable, indexByID, byRef, claimed); ok {
			sl.visitor = i
		} else {
			sl.visitor = len(rows)
			rows = append(rows, row{entry: ex.Visitor, order: len(rows), local: true})
		}
		if i, ok := replyCounterpart(ex, indexByID, byRef); ok {
			sl.reply = i
		} else {
			sl.reply = len(rows)
			rows = append(rows, row{entry: ex.Reply, order: len(rows), local: true})
		}
		slots = append(slots, sl)
	}

	// Entries without a timestamp sort with whatever precedes them.
	var last time.Time
	for i := range rows {
		if !rows[i].entry.CreatedAt.IsZero() {
			last = rows[i].entry.CreatedAt
		}
		rows[i].at = last
	}

	var floor time.Time
	for _, sl := range slots {
		for _, i := range [2]int{sl.visitor, sl.reply} {
			if rows[i].local && rows[i].at.Before(floor) {
				rows[i].at = floor
			}
			if rows[i].at.After(floor) {
				floor = rows[i].at
			}
		}
	}

	slices.SortStableFunc(rows, func(a, b row) int {
		if c := a.at.Compare(b.at); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})

	return lo.Map(rows, func(r row, _ int) Entry { return r.entry })
}

// replyCounterpart returns the durable index holding the exchange's reply.
func replyCounterpart(ex Exchange, indexByID map[int64]int, byRef map[refKey]int) (int, bool) {
	if ex.Reply.ID != 0 {
		if i, ok := indexByID[ex.Reply.ID]; ok {
			return i, true
		}
	}
	if ex.Ref != "" {
		if i, ok := byRef[refKey{ref: ex.Ref, sender: model.SenderAgent}]; ok {
			return i, true
		}
	}
	return 0, false
}

// visitorCounterpart returns the durable index holding the exchange's
// visitor message.
func visitorCounterpart(
	ex Exchange,
	durable []model.Message,
	indexByID map[int64]int,
	byRef map[refKey]int,
	claimed map[int]bool,
) (int, bool) {
	if ex.Ref != "" {
		if i, ok := byRef[refKey{ref: ex.Ref, sender: model.SenderVisitor}]; ok {
			return i, true
		}
	}

	// Ref-less stores: only a reconciled exchange whose reply is already in
	// the snapshot may claim the nearest earlier visitor message with the
	// same text.
	if ex.Reply.ID == 0 {
		return 0, false
	}
	replyAt, ok := indexByID[ex.Reply.ID]
	if !ok {
		return 0, false
	}
	for i := replyAt - 1; i >= 0; i-- {
		m := durable[i]
		if claimed[i] || m.ClientRef != "" || m.Sender != model.SenderVisitor {
			continue
		}
		if strings.TrimSpace(m.Content) == ex.Visitor.Content {
			claimed[i] = true
			return i, true
		}
	}
	return 0, false
}
