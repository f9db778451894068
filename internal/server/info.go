package server

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/eternalApril/rudis/internal/resp"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

const version = "0.3.0"

var infoSections = []string{"server", "clients", "memory", "persistence", "stats", "cpu", "keyspace"}

// info renders INFO [section]. Unknown sections produce an empty reply
func info(ctx *context) (resp.Value, error) {
	if len(ctx.args) > 1 {
		return resp.Value{}, ErrSyntax
	}

	wanted := infoSections
	if len(ctx.args) == 1 {
		section := strings.ToLower(string(ctx.args[0]))
		switch section {
		case "all", "default", "everything":
		default:
			wanted = []string{section}
		}
	}

	var b strings.Builder
	for _, section := range wanted {
		lines := ctx.engine.infoSection(ctx, section)
		if lines == nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\r\n")
		}
		b.WriteString("# ")
		b.WriteString(strings.ToUpper(section[:1]) + section[1:])
		b.WriteString("\r\n")
		for _, line := range lines {
			b.WriteString(line)
			b.WriteString("\r\n")
		}
	}
	return resp.MakeBulkString(b.String()), nil
}

func (e *Engine) infoSection(ctx *context, section string) []string {
	switch section {
	case "server":
		return e.infoServer(ctx.tx.Now())
	case "clients":
		return e.infoClients()
	case "memory":
		return e.infoMemory()
	case "persistence":
		return e.infoPersistence()
	case "stats":
		return e.infoStats()
	case "cpu":
		return e.infoCPU()
	case "keyspace":
		return e.infoKeyspace(ctx)
	}
	return nil
}

func (e *Engine) infoServer(now time.Time) []string {
	uptime := now.Sub(e.startedAt)
	return []string{
		"rudis_version:" + version,
		"go_version:" + runtime.Version(),
		"os:" + runtime.GOOS + " " + runtime.GOARCH,
		fmt.Sprintf("process_id:%d", os.Getpid()),
		"run_id:" + e.runID,
		"tcp_port:" + e.cfg.Server.Port,
		fmt.Sprintf("uptime_in_seconds:%d", int64(uptime/time.Second)),
		fmt.Sprintf("uptime_in_days:%d", int64(uptime/(24*time.Hour))),
		fmt.Sprintf("shards:%d", e.cfg.Storage.Shards),
		fmt.Sprintf("databases:%d", e.ks.Databases()),
	}
}

func (e *Engine) infoClients() []string {
	e.clientsMu.Lock()
	connected := len(e.clients)
	e.clientsMu.Unlock()

	return []string{
		fmt.Sprintf("connected_clients:%d", connected),
		fmt.Sprintf("maxclients:%d", e.cfg.Server.MaxClients),
	}
}

// infoMemory combines the runtime heap figures with the process and host numbers from gopsutil
func (e *Engine) infoMemory() []string {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	lines := []string{
		fmt.Sprintf("used_memory:%d", ms.HeapAlloc),
		fmt.Sprintf("used_memory_sys:%d", ms.Sys),
		fmt.Sprintf("gc_cycles:%d", ms.NumGC),
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			lines = append(lines, fmt.Sprintf("used_memory_rss:%d", mi.RSS))
		} else {
			e.logger.Debug("process memory info unavailable", zap.Error(err))
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		lines = append(lines, fmt.Sprintf("total_system_memory:%d", vm.Total))
	} else {
		e.logger.Debug("system memory info unavailable", zap.Error(err))
	}

	return lines
}

func (e *Engine) infoPersistence() []string {
	lines := []string{
		"aof_enabled:" + boolFlag(e.aof != nil),
		"rdb_enabled:" + boolFlag(e.saver != nil),
	}

	if e.aof != nil {
		lines = append(lines,
			"aof_filename:"+e.aof.Filename(),
			"aof_fsync:"+e.aof.Policy().String(),
		)
	}

	if e.saver != nil {
		status := "ok"
		if !e.saver.LastStatusOK() {
			status = "err"
		}
		lines = append(lines,
			fmt.Sprintf("rdb_changes_since_last_save:%d", e.saver.Dirty()),
			"rdb_bgsave_in_progress:"+boolFlag(e.saver.InProgress()),
			fmt.Sprintf("rdb_last_save_time:%d", e.saver.LastSave().Unix()),
			"rdb_last_bgsave_status:"+status,
			"rdb_format:"+e.cfg.Persistence.RDB.Format,
		)
	}

	if usage, err := disk.Usage(e.cfg.Persistence.Dir); err == nil {
		lines = append(lines,
			fmt.Sprintf("disk_used:%d", usage.Used),
			fmt.Sprintf("disk_free:%d", usage.Free),
		)
	}

	return lines
}

func (e *Engine) infoStats() []string {
	return []string{
		fmt.Sprintf("total_connections_received:%d", e.totalConnections.Load()),
		fmt.Sprintf("total_commands_processed:%d", e.totalCommands.Load()),
		fmt.Sprintf("rejected_connections:%d", e.rejectedClients.Load()),
		fmt.Sprintf("expired_keys:%d", e.ks.ExpiredKeys()),
	}
}

func (e *Engine) infoCPU() []string {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return []string{}
	}

	times, err := p.Times()
	if err != nil {
		e.logger.Debug("process cpu times unavailable", zap.Error(err))
		return []string{}
	}

	return []string{
		fmt.Sprintf("used_cpu_sys:%.6f", times.System),
		fmt.Sprintf("used_cpu_user:%.6f", times.User),
		fmt.Sprintf("goroutines:%d", runtime.NumGoroutine()),
	}
}

func (e *Engine) infoKeyspace(ctx *context) []string {
	lines := []string{}
	for _, st := range ctx.tx.Stats() {
		lines = append(lines, fmt.Sprintf("db%d:keys=%d,expires=%d", st.Index, st.Keys, st.Expires))
	}
	return lines
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
