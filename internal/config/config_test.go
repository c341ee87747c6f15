package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_defaults(t *testing.T) {
	os.Clearenv()
	c := Load()
	if c.SongFileFolderPath != "./songs" {
		t.Errorf("SongFileFolderPath default: got %q", c.SongFileFolderPath)
	}
	if c.SonglistFilePath != "" {
		t.Errorf("SonglistFilePath default should be empty; got %q", c.SonglistFilePath)
	}
	if c.SongFileHashPreCalculate {
		t.Error("SongFileHashPreCalculate should default false")
	}
	if c.DownloadTimesLimit != 6 {
		t.Errorf("DownloadTimesLimit default: got %d", c.DownloadTimesLimit)
	}
	if c.DownloadTimeGapLimit != time.Hour {
		t.Errorf("DownloadTimeGapLimit default: got %v", c.DownloadTimeGapLimit)
	}
	if c.DownloadLinkPrefix != "" {
		t.Errorf("DownloadLinkPrefix default should be empty; got %q", c.DownloadLinkPrefix)
	}
	if c.DownloadForbidWhenNoItem {
		t.Error("DownloadForbidWhenNoItem should default false")
	}
	if c.FreePackName != "free" {
		t.Errorf("FreePackName default: got %q", c.FreePackName)
	}
	if c.SinglePackName != "single" {
		t.Errorf("SinglePackName default: got %q", c.SinglePackName)
	}
	if c.MaxConns != 256 {
		t.Errorf("MaxConns default: got %d", c.MaxConns)
	}
	if c.MetricsAddr != c.ListenAddr {
		t.Errorf("MetricsAddr should default to ListenAddr; got %q vs %q", c.MetricsAddr, c.ListenAddr)
	}
}

func TestLoad_downloadGapLimitIsSeconds(t *testing.T) {
	os.Clearenv()
	os.Setenv("DOWNLOAD_TIME_GAP_LIMIT", "900")
	c := Load()
	if c.DownloadTimeGapLimit != 900*time.Second {
		t.Errorf("DownloadTimeGapLimit: got %v", c.DownloadTimeGapLimit)
	}
}

func TestLoad_downloadTimesLimitFloorsToDefault(t *testing.T) {
	os.Clearenv()
	os.Setenv("DOWNLOAD_TIMES_LIMIT", "0")
	c := Load()
	if c.DownloadTimesLimit != 6 {
		t.Errorf("DownloadTimesLimit should fall back to default on 0; got %d", c.DownloadTimesLimit)
	}
}

func TestLoad_catalogueAndForbidFlags(t *testing.T) {
	os.Clearenv()
	os.Setenv("SONGLIST_FILE_PATH", "/var/lib/songdl/songlist.json")
	os.Setenv("DOWNLOAD_FORBID_WHEN_NO_ITEM", "true")
	c := Load()
	if c.SonglistFilePath != "/var/lib/songdl/songlist.json" {
		t.Errorf("SonglistFilePath: got %q", c.SonglistFilePath)
	}
	if !c.DownloadForbidWhenNoItem {
		t.Error("DownloadForbidWhenNoItem should be true")
	}
}

func TestLoad_linkPrefix(t *testing.T) {
	os.Clearenv()
	os.Setenv("DOWNLOAD_LINK_PREFIX", "https://cdn.example.com/dl/")
	c := Load()
	if c.DownloadLinkPrefix != "https://cdn.example.com/dl/" {
		t.Errorf("DownloadLinkPrefix: got %q", c.DownloadLinkPrefix)
	}
}

func TestLoad_metricsAddrOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("SONGDL_LISTEN_ADDR", ":9000")
	os.Setenv("SONGDL_METRICS_ADDR", ":9001")
	c := Load()
	if c.ListenAddr != ":9000" {
		t.Errorf("ListenAddr: got %q", c.ListenAddr)
	}
	if c.MetricsAddr != ":9001" {
		t.Errorf("MetricsAddr: got %q", c.MetricsAddr)
	}
}

func TestLoad_hashPreCalculate(t *testing.T) {
	os.Clearenv()
	os.Setenv("SONG_FILE_HASH_PRE_CALCULATE", "yes")
	c := Load()
	if !c.SongFileHashPreCalculate {
		t.Error("SongFileHashPreCalculate should be true for yes")
	}
}
