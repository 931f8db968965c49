package config

import (
	"fmt"
	"sort"
)

// QueueClass maps a named resource class to a scheduler queue and a
// per-core memory allowance.
type QueueClass struct {
	Name         string `mapstructure:"-" yaml:"-"`
	Queue        string `mapstructure:"queue" yaml:"queue"`
	MemPerCoreMB int64  `mapstructure:"mem_per_core_mb" yaml:"mem_per_core_mb"`
}

// MemoryMB is the memory ceiling requested for a job with the given cores.
func (q QueueClass) MemoryMB(cores int) int64 {
	return int64(cores) * q.MemPerCoreMB
}

// DefaultQueueClasses returns the three standard classes.
func DefaultQueueClasses() map[string]QueueClass {
	return map[string]QueueClass{
		"batch": {Name: "batch", Queue: "batch", MemPerCoreMB: 4096},
		"himem": {Name: "himem", Queue: "himem", MemPerCoreMB: 8192},
		"fat":   {Name: "fat", Queue: "fat", MemPerCoreMB: 16384},
	}
}

// LookupQueue returns the named class from Global.
func LookupQueue(name string) (QueueClass, error) {
	q, ok := Global.Queues[name]
	if !ok {
		return QueueClass{}, fmt.Errorf("unknown queue class %q (available: %v)", name, QueueNames())
	}
	if q.MemPerCoreMB <= 0 {
		return QueueClass{}, fmt.Errorf("queue class %q has no per-core memory", name)
	}
	q.Name = name
	if q.Queue == "" {
		q.Queue = name
	}
	return q, nil
}

// QueueNames lists configured classes in sorted order.
func QueueNames() []string {
	names := make([]string, 0, len(Global.Queues))
	for n := range Global.Queues {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
