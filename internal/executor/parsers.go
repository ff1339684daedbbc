package executor

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseUptime extracts the three load averages and the uptime string from
// `uptime` output, e.g. " 10:01:02 up 5 days, 3:21, 2 users, load average: 0.01, 0.05, 0.10".
func ParseUptime(stdout string) (map[string]any, error) {
	m := regexp.MustCompile(`load average:\s*([\d.]+),\s*([\d.]+),\s*([\d.]+)`).FindStringSubmatch(stdout)
	if m == nil {
		return nil, fmt.Errorf("uptime: load average not found")
	}
	load1, _ := strconv.ParseFloat(m[1], 64)
	load5, _ := strconv.ParseFloat(m[2], 64)
	load15, _ := strconv.ParseFloat(m[3], 64)

	upM := regexp.MustCompile(`up\s+(.*?),\s+\d+\s+user`).FindStringSubmatch(stdout)
	uptimeText := ""
	if upM != nil {
		uptimeText = strings.TrimSpace(upM[1])
	}

	return map[string]any{
		"load1":  load1,
		"load5":  load5,
		"load15": load15,
		"uptime": uptimeText,
	}, nil
}

// ParseLoadavg parses /proc/loadavg's "0.10 0.20 0.30 1/200 12345" shape.
func ParseLoadavg(stdout string) (map[string]any, error) {
	fields := strings.Fields(stdout)
	if len(fields) < 3 {
		return nil, fmt.Errorf("loadavg: unexpected format %q", stdout)
	}
	load1, e1 := strconv.ParseFloat(fields[0], 64)
	load5, e2 := strconv.ParseFloat(fields[1], 64)
	load15, e3 := strconv.ParseFloat(fields[2], 64)
	if e1 != nil || e2 != nil || e3 != nil {
		return nil, fmt.Errorf("loadavg: non-numeric fields in %q", stdout)
	}
	return map[string]any{"load1": load1, "load5": load5, "load15": load15}, nil
}

// ParseFree extracts total/used/free/available for Mem and Swap from
// `free -b` output.
func ParseFree(stdout string) (map[string]any, error) {
	out := map[string]any{}
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch {
		case strings.HasPrefix(fields[0], "Mem:") && len(fields) >= 4:
			out["mem_total"], _ = strconv.ParseFloat(fields[1], 64)
			out["mem_used"], _ = strconv.ParseFloat(fields[2], 64)
			out["mem_free"], _ = strconv.ParseFloat(fields[3], 64)
			if len(fields) >= 7 {
				out["mem_available"], _ = strconv.ParseFloat(fields[6], 64)
			} else if len(fields) >= 4 {
				out["mem_available"] = out["mem_free"]
			}
		case strings.HasPrefix(fields[0], "Swap:") && len(fields) >= 4:
			out["swap_total"], _ = strconv.ParseFloat(fields[1], 64)
			out["swap_used"], _ = strconv.ParseFloat(fields[2], 64)
			out["swap_free"], _ = strconv.ParseFloat(fields[3], 64)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("free: no Mem/Swap lines found")
	}
	return out, nil
}

// ParseMeminfo maps /proc/meminfo's key: N kB lines into a byte-valued map.
func ParseMeminfo(stdout string) (map[string]any, error) {
	out := map[string]any{}
	line := regexp.MustCompile(`^(\w+):\s+(\d+)(?:\s+kB)?$`)
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		m := line.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		kb, _ := strconv.ParseFloat(m[2], 64)
		out[m[1]] = kb * 1024
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("meminfo: no recognizable lines")
	}
	return out, nil
}

// ProcStatCPU is the decomposed first "cpu" line of /proc/stat (§4.3).
type ProcStatCPU struct {
	User, Nice, System, Idle, IOWait, IRQ, SoftIRQ, Steal int64
	Total                                                  int64
}

// ParseProcStatCPU decomposes the aggregate "cpu" line. CPU usage itself is
// computed across two samples by the CPU collector, not here (§4.3).
func ParseProcStatCPU(stdout string) (map[string]any, error) {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 8 || fields[0] != "cpu" {
			continue
		}
		vals := make([]int64, 8)
		for i := 0; i < 8; i++ {
			v, err := strconv.ParseInt(fields[i+1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("proc_stat: %w", err)
			}
			vals[i] = v
		}
		total := int64(0)
		for _, v := range vals {
			total += v
		}
		return map[string]any{
			"user": vals[0], "nice": vals[1], "system": vals[2], "idle": vals[3],
			"iowait": vals[4], "irq": vals[5], "softirq": vals[6], "steal": vals[7],
			"total": total,
		}, nil
	}
	return nil, fmt.Errorf("proc_stat: no cpu line found")
}

// nonDeviceFS matches tmpfs-like pseudo filesystems excluded by §4.3's
// `df -B1` parser (devfs, tmpfs, overlay, squashfs, proc, sysfs, cgroup...).
var nonDeviceFS = regexp.MustCompile(`^(tmpfs|devtmpfs|overlay|squashfs|proc|sysfs|cgroup|cgroup2|devpts|mqueue|none)$`)

// DFRow is one retained filesystem row.
type DFRow struct {
	Device     string
	MountPoint string
	TotalBytes int64
	UsedBytes  int64
	AvailBytes int64
}

// ParseDF parses `df -B1` output, excluding filesystems whose device does
// not begin with /dev/ and tmpfs-like mounts (§4.3).
func ParseDF(stdout string) (map[string]any, error) {
	var rows []DFRow
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			continue // header
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		device := fields[0]
		if !strings.HasPrefix(device, "/dev/") {
			continue
		}
		if nonDeviceFS.MatchString(device) {
			continue
		}
		total, err1 := strconv.ParseInt(fields[1], 10, 64)
		used, err2 := strconv.ParseInt(fields[2], 10, 64)
		avail, err3 := strconv.ParseInt(fields[3], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		rows = append(rows, DFRow{
			Device:     device,
			MountPoint: fields[len(fields)-1],
			TotalBytes: total,
			UsedBytes:  used,
			AvailBytes: avail,
		})
	}
	out := map[string]any{"filesystems": rows}
	return out, nil
}

// DiskstatsRow is one /proc/diskstats device row (§4.3).
type DiskstatsRow struct {
	Device          string
	ReadsCompleted  int64
	SectorsRead     int64
	WritesCompleted int64
	SectorsWritten  int64
	IOTimeMS        int64
}

// ParseDiskstats parses /proc/diskstats. If the command text instead ran
// iostat successfully (§4.4's "iostat ... || cat /proc/diskstats" fallback
// pair), the disk collector detects that by output shape and reads rates
// directly rather than calling this parser; this parser only handles the
// /proc/diskstats fallback branch.
func ParseDiskstats(stdout string) (map[string]any, error) {
	var rows []DiskstatsRow
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 14 {
			continue
		}
		readsCompleted, e1 := strconv.ParseInt(fields[3], 10, 64)
		sectorsRead, e2 := strconv.ParseInt(fields[5], 10, 64)
		writesCompleted, e3 := strconv.ParseInt(fields[7], 10, 64)
		sectorsWritten, e4 := strconv.ParseInt(fields[9], 10, 64)
		ioTimeMS, e5 := strconv.ParseInt(fields[12], 10, 64)
		if e1 != nil || e2 != nil || e3 != nil || e4 != nil || e5 != nil {
			continue
		}
		rows = append(rows, DiskstatsRow{
			Device:          fields[2],
			ReadsCompleted:  readsCompleted,
			SectorsRead:     sectorsRead,
			WritesCompleted: writesCompleted,
			SectorsWritten:  sectorsWritten,
			IOTimeMS:        ioTimeMS,
		})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("diskstats: no device rows parsed")
	}
	return map[string]any{"devices": rows}, nil
}

// NetDevRow is one /proc/net/dev interface row.
type NetDevRow struct {
	Name       string
	RxBytes    int64
	RxPackets  int64
	RxErrors   int64
	RxDropped  int64
	TxBytes    int64
	TxPackets  int64
	TxErrors   int64
	TxDropped  int64
}

// ParseNetDev parses /proc/net/dev.
func ParseNetDev(stdout string) (map[string]any, error) {
	var rows []NetDevRow
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= 2 {
			continue // two header lines
		}
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		fields := strings.Fields(parts[1])
		if len(fields) < 16 {
			continue
		}
		rx := parseInts(fields[0:4])
		tx := parseInts(fields[8:12])
		rows = append(rows, NetDevRow{
			Name:      name,
			RxBytes:   rx[0], RxPackets: rx[1], RxErrors: rx[2], RxDropped: rx[3],
			TxBytes: tx[0], TxPackets: tx[1], TxErrors: tx[2], TxDropped: tx[3],
		})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("net_dev: no interface rows parsed")
	}
	return map[string]any{"interfaces": rows}, nil
}

func parseInts(fields []string) [4]int64 {
	var out [4]int64
	for i, f := range fields {
		if i >= 4 {
			break
		}
		v, _ := strconv.ParseInt(f, 10, 64)
		out[i] = v
	}
	return out
}

// ParseLscpu extracts cores, max MHz, model name and architecture from
// `lscpu`'s "Key:   value" lines.
func ParseLscpu(stdout string) (map[string]any, error) {
	out := map[string]any{}
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		switch key {
		case "CPU(s)":
			if n, err := strconv.Atoi(val); err == nil {
				out["cores"] = n
			}
		case "CPU max MHz":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				out["max_mhz"] = f
			}
		case "Model name":
			out["model_name"] = val
		case "Architecture":
			out["architecture"] = val
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("lscpu: no recognizable fields")
	}
	return out, nil
}

// IPAddrInterface is one interface entry from `ip addr show` (§4.3).
type IPAddrInterface struct {
	Name      string
	State     string
	MTU       int
	Addresses []IPAddrEntry
}

// IPAddrEntry is one {family, address, scope} tuple.
type IPAddrEntry struct {
	Family  string
	Address string
	Scope   string
}

var ifaceHeader = regexp.MustCompile(`^\d+:\s+([\w.@-]+):\s+<([^>]*)>.*mtu (\d+)`)
var inetLine = regexp.MustCompile(`^(inet6?)\s+([\w.:/]+).*scope (\w+)`)

// ParseIPAddr parses `ip addr show` output into per-interface state/MTU and
// address list (§4.3).
func ParseIPAddr(stdout string) (map[string]any, error) {
	var ifaces []IPAddrInterface
	var cur *IPAddrInterface

	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		line := scanner.Text()
		if m := ifaceHeader.FindStringSubmatch(line); m != nil {
			if cur != nil {
				ifaces = append(ifaces, *cur)
			}
			mtu, _ := strconv.Atoi(m[3])
			state := "DOWN"
			if strings.Contains(m[2], "UP") {
				state = "UP"
			}
			cur = &IPAddrInterface{Name: m[1], State: state, MTU: mtu}
			continue
		}
		if cur == nil {
			continue
		}
		if m := inetLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			cur.Addresses = append(cur.Addresses, IPAddrEntry{Family: m[1], Address: m[2], Scope: m[3]})
		}
	}
	if cur != nil {
		ifaces = append(ifaces, *cur)
	}
	if len(ifaces) == 0 {
		return nil, fmt.Errorf("ip_addr: no interfaces parsed")
	}
	return map[string]any{"interfaces": ifaces}, nil
}
