// Package monitoring serves the state of a running VM system over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/rs/xid"
	"github.com/sarchlab/smartvm/mem/vm"
	"github.com/sarchlab/smartvm/mem/vm/addrspace"
	"github.com/sarchlab/smartvm/mem/vm/coremap"
	"github.com/sarchlab/smartvm/mem/vm/mmu"
	"github.com/sarchlab/smartvm/mem/vm/swap"
	"github.com/sarchlab/smartvm/monitoring/web"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor turns a VM system into a server so that its frames, address
// spaces, and counters can be inspected while it runs.
type Monitor struct {
	system       *mmu.System
	portNumber   int
	dashboardDir string

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithDashboardDir serves the dashboard from dir instead of the copy built
// into the binary.
func (m *Monitor) WithDashboardDir(dir string) *Monitor {
	m.dashboardDir = dir
	return m
}

// RegisterSystem registers the VM system to be monitored.
func (m *Monitor) RegisterSystem(s *mmu.System) {
	m.system = s
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler of all the monitoring endpoints.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	assets, err := web.Assets(m.dashboardDir)
	dieOnErr(err)

	r.HandleFunc("/api/stats", m.stats)
	r.HandleFunc("/api/frames", m.listFrames)
	r.HandleFunc("/api/spaces", m.listSpaces)
	r.HandleFunc("/api/space/{asid}", m.spaceDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/tlb/{cpu}", m.listTLBEntries)
	r.HandleFunc("/api/swap", m.swapStats)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(web.Handler(assets))

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	fmt.Fprintf(os.Stderr, "Monitoring VM system with %s\n", url)

	router := m.Router()

	go func() {
		err := http.Serve(listener, router)
		dieOnErr(err)
	}()

	return url
}

type statsRsp struct {
	VM     mmu.Stats     `json:"vm"`
	Frames coremap.Usage `json:"frames"`
	Swap   swap.Stats    `json:"swap"`
	Spaces int           `json:"spaces"`
}

func (m *Monitor) stats(w http.ResponseWriter, _ *http.Request) {
	rsp := statsRsp{
		VM:     m.system.Stats(),
		Frames: m.system.Frames().Usage(),
		Swap:   m.system.Swap().Stats(),
		Spaces: len(m.system.AddressSpaces()),
	}

	writeJSON(w, rsp)
}

type frameRsp struct {
	Index     int    `json:"index"`
	State     string `json:"state"`
	ASID      uint32 `json:"asid,omitempty"`
	VPage     string `json:"vpage,omitempty"`
	RunLength int    `json:"run_length,omitempty"`
	Busy      bool   `json:"busy,omitempty"`
}

func (m *Monitor) listFrames(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")

	frames := m.system.Frames().Frames()
	rsp := make([]frameRsp, 0, len(frames))

	for i, f := range frames {
		if state != "" && f.State.String() != state {
			continue
		}

		fr := frameRsp{
			Index:     i,
			State:     f.State.String(),
			RunLength: f.RunLength,
			Busy:      f.Transient(),
		}

		if f.State.Reclaimable() && f.Owner != nil {
			fr.ASID = uint32(f.Owner.ASID())
			fr.VPage = fmt.Sprintf("0x%x", f.VPage)
		}

		rsp = append(rsp, fr)
	}

	writeJSON(w, rsp)
}

type spaceRsp struct {
	ASID     uint32 `json:"asid"`
	NumPages int    `json:"num_pages"`
	HeapBase string `json:"heap_base"`
	HeapEnd  string `json:"heap_end"`
	StackTop string `json:"stack_top"`
}

func (m *Monitor) listSpaces(w http.ResponseWriter, _ *http.Request) {
	spaces := m.system.AddressSpaces()
	rsp := make([]spaceRsp, 0, len(spaces))

	for _, as := range spaces {
		base, end := as.Heap()
		rsp = append(rsp, spaceRsp{
			ASID:     uint32(as.ASID()),
			NumPages: as.NumPages(),
			HeapBase: fmt.Sprintf("0x%x", base),
			HeapEnd:  fmt.Sprintf("0x%x", end),
			StackTop: fmt.Sprintf("0x%x", as.StackTop()),
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) spaceDetails(w http.ResponseWriter, r *http.Request) {
	as := m.findSpaceOr404(w, mux.Vars(r)["asid"])
	if as == nil {
		return
	}

	snapshot := as.Snapshot()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&snapshot)
	serializer.SetMaxDepth(3)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	ASID      string `json:"asid,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	as := m.findSpaceOr404(w, req.ASID)
	if as == nil {
		return
	}

	snapshot := as.Snapshot()
	fields := strings.Split(req.FieldName, ".")

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&snapshot)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(fields)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) findSpaceOr404(
	w http.ResponseWriter,
	asidStr string,
) *addrspace.AddressSpace {
	asid, err := strconv.ParseUint(asidStr, 0, 32)
	if err == nil {
		as, found := m.system.AddressSpace(vm.ASID(asid))
		if found {
			return as
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err = w.Write([]byte("Address space not found"))
	dieOnErr(err)

	return nil
}

type tlbEntryRsp struct {
	Slot  int    `json:"slot"`
	ASID  uint32 `json:"asid"`
	VPage string `json:"vpage"`
	Frame int    `json:"frame"`
	Dirty bool   `json:"dirty"`
}

func (m *Monitor) listTLBEntries(w http.ResponseWriter, r *http.Request) {
	cpu, err := strconv.Atoi(mux.Vars(r)["cpu"])
	if err != nil || cpu < 0 || cpu >= m.system.NumCPUs() {
		w.WriteHeader(http.StatusNotFound)
		_, err = w.Write([]byte("CPU not found"))
		dieOnErr(err)

		return
	}

	rsp := []tlbEntryRsp{}
	for slot, e := range m.system.TLBs().TLB(cpu).Entries() {
		if !e.Valid {
			continue
		}

		rsp = append(rsp, tlbEntryRsp{
			Slot:  slot,
			ASID:  uint32(e.ASID),
			VPage: fmt.Sprintf("0x%x", e.VPage),
			Frame: int(e.Frame),
			Dirty: e.Dirty,
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) swapStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.system.Swap().Stats())
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	writeJSON(w, rsp)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
