package gluster

import (
	"bufio"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// volumeInfo maps a volume name to its 'key: value' lines from 'gluster volume info'
type volumeInfo map[string]map[string]string

// parseVolumeInfo reads output such as
//
//	Volume Name: projectfs
//	Type: Replicate
//	Status: Started
//	Options Reconfigured:
//	auth.allow: localhost,10.10.10.43
//	features.limit-usage: /:2GB
func parseVolumeInfo(out string) volumeInfo {
	info := volumeInfo{}
	var current map[string]string

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "Volume Name" {
			current = map[string]string{}
			info[value] = current
			continue
		}
		if current == nil {
			// lines before the first volume, e.g. "No volumes present"
			continue
		}
		current[key] = value
	}
	if err := scanner.Err(); err != nil {
		logrus.Warnf("error scanning gluster volume info: %s", err)
	}
	return info
}

func (v volumeInfo) names() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// size returns the quota part of 'features.limit-usage: <path>:<size>'.
// Volumes created here limit quotaPath; older volumes limited on /data are read the same way.
func (v volumeInfo) size(name string) string {
	raw, ok := v[name][limitUsageKey]
	if !ok {
		return "unknown"
	}
	idx := strings.Index(raw, ":")
	if idx < 0 {
		return raw
	}
	return raw[idx+1:]
}
