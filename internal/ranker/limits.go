package ranker

// Limits caps each context section.
type Limits struct {
	Siblings     int
	SameType     int
	CrossSession int
	Tagged       int
	Fallback     int

	PromptTasks     int
	PromptDecisions int
	PromptCompleted int

	DescriptionExcerpt int // runes of a task description in assigned tasks
	PlanExcerpt        int // runes of the latest plan comment
}

// DefaultLimits returns the built-in caps.
func DefaultLimits() Limits {
	return Limits{
		Siblings:           5,
		SameType:           3,
		CrossSession:       5,
		Tagged:             5,
		Fallback:           5,
		PromptTasks:        10,
		PromptDecisions:    5,
		PromptCompleted:    5,
		DescriptionExcerpt: 100,
		PlanExcerpt:        200,
	}
}

// Merge returns l with every positive field of o applied on top.
func (l Limits) Merge(o Limits) Limits {
	pick := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	pick(&l.Siblings, o.Siblings)
	pick(&l.SameType, o.SameType)
	pick(&l.CrossSession, o.CrossSession)
	pick(&l.Tagged, o.Tagged)
	pick(&l.Fallback, o.Fallback)
	pick(&l.PromptTasks, o.PromptTasks)
	pick(&l.PromptDecisions, o.PromptDecisions)
	pick(&l.PromptCompleted, o.PromptCompleted)
	pick(&l.DescriptionExcerpt, o.DescriptionExcerpt)
	pick(&l.PlanExcerpt, o.PlanExcerpt)
	return l
}
