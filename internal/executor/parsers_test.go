package executor

import "testing"

func TestParseFree(t *testing.T) {
	out := "              total        used        free      shared  buff/cache   available\n" +
		"Mem:     8000000000  2000000000  4000000000    10000000  2000000000  5500000000\n" +
		"Swap:    1000000000           0  1000000000\n"
	m, err := ParseFree(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["mem_total"] != 8000000000.0 || m["mem_available"] != 5500000000.0 {
		t.Fatalf("unexpected parse: %+v", m)
	}
	if m["swap_total"] != 1000000000.0 {
		t.Fatalf("unexpected swap parse: %+v", m)
	}
}

func TestParseMeminfo(t *testing.T) {
	out := "MemTotal:       8000000 kB\nMemFree:        4000000 kB\nMemAvailable:   5500000 kB\n"
	m, err := ParseMeminfo(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["MemTotal"] != 8000000.0*1024 {
		t.Fatalf("unexpected MemTotal: %+v", m["MemTotal"])
	}
}

func TestParseProcStatCPU(t *testing.T) {
	out := "cpu  100 10 50 800 5 0 2 0\ncpu0 50 5 25 400 2 0 1 0\n"
	m, err := ParseProcStatCPU(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["user"] != int64(100) || m["idle"] != int64(800) {
		t.Fatalf("unexpected parse: %+v", m)
	}
	total := m["total"].(int64)
	if total != 967 {
		t.Fatalf("expected total 967, got %d", total)
	}
}

func TestParseDF_ExcludesNonDeviceAndTmpfs(t *testing.T) {
	out := "Filesystem     1B-blocks       Used  Available Use% Mounted on\n" +
		"/dev/sda1    100000000000 50000000000 45000000000  53% /\n" +
		"tmpfs           800000000           0    800000000   0% /dev/shm\n" +
		"overlay       50000000000 10000000000 38000000000  21% /var/lib/docker\n"
	m, err := ParseDF(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows := m["filesystems"].([]DFRow)
	if len(rows) != 1 {
		t.Fatalf("expected 1 retained filesystem, got %d: %+v", len(rows), rows)
	}
	if rows[0].Device != "/dev/sda1" {
		t.Fatalf("unexpected device: %s", rows[0].Device)
	}
}

func TestParseDiskstats(t *testing.T) {
	out := "   8       0 sda 1000 200 50000 500 2000 100 80000 900 0 1500 1400\n"
	m, err := ParseDiskstats(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows := m["devices"].([]DiskstatsRow)
	if len(rows) != 1 || rows[0].Device != "sda" {
		t.Fatalf("unexpected parse: %+v", rows)
	}
	if rows[0].ReadsCompleted != 1000 || rows[0].WritesCompleted != 2000 {
		t.Fatalf("unexpected counters: %+v", rows[0])
	}
}

func TestParseNetDev(t *testing.T) {
	out := "Inter-|   Receive                                                |  Transmit\n" +
		" face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed\n" +
		"  eth0: 1000000    500    0    0    0     0          0         0  2000000     600    0    0    0     0       0          0\n" +
		"    lo:   5000     50    0    0    0     0          0         0     5000      50    0    0    0     0       0          0\n"
	m, err := ParseNetDev(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows := m["interfaces"].([]NetDevRow)
	if len(rows) != 2 {
		t.Fatalf("expected 2 interfaces, got %d: %+v", len(rows), rows)
	}
	if rows[0].Name != "eth0" || rows[0].RxBytes != 1000000 {
		t.Fatalf("unexpected eth0 parse: %+v", rows[0])
	}
}

func TestParseLscpu(t *testing.T) {
	out := "Architecture:        x86_64\nCPU(s):              8\nCPU max MHz:        3200.0000\nModel name:          Test CPU\n"
	m, err := ParseLscpu(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["cores"] != 8 || m["model_name"] != "Test CPU" {
		t.Fatalf("unexpected parse: %+v", m)
	}
}

func TestParseIPAddr(t *testing.T) {
	out := "1: lo: <LOOPBACK,UP,LOWER_UP> mtu 65536 qdisc noqueue state UNKNOWN\n" +
		"    inet 127.0.0.1/8 scope host lo\n" +
		"2: eth0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 qdisc fq_codel state UP\n" +
		"    inet 10.0.0.5/24 brd 10.0.0.255 scope global eth0\n"
	m, err := ParseIPAddr(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ifaces := m["interfaces"].([]IPAddrInterface)
	if len(ifaces) != 2 {
		t.Fatalf("expected 2 interfaces, got %d", len(ifaces))
	}
	if ifaces[1].Name != "eth0" || ifaces[1].State != "UP" || ifaces[1].MTU != 1500 {
		t.Fatalf("unexpected eth0 parse: %+v", ifaces[1])
	}
	if len(ifaces[1].Addresses) != 1 || ifaces[1].Addresses[0].Address != "10.0.0.5/24" {
		t.Fatalf("unexpected addresses: %+v", ifaces[1].Addresses)
	}
}
