// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package profiler

import (
	"fmt"

	cloudprofiler "cloud.google.com/go/profiler"
	"github.com/googlecloudplatform/gcsasyncwriter/cfg"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/logger"
	"google.golang.org/api/option"
)

const serviceName = "gcsasyncwriter"

type startFunc func(cloudprofiler.Config, ...option.ClientOption) error

// SetupCloudProfiler starts Cloud Profiler when it is enabled in c.
func SetupCloudProfiler(c *cfg.ProfilingConfig) error {
	return setupCloudProfiler(c, cloudprofiler.Start)
}

func setupCloudProfiler(c *cfg.ProfilingConfig, start startFunc) error {
	if !c.Enabled {
		return nil
	}

	pConfig := cloudprofiler.Config{
		Service:              serviceName,
		ServiceVersion:       c.Label,
		MutexProfiling:       c.Mutex,
		NoCPUProfiling:       !c.Cpu,
		NoAllocProfiling:     !c.AllocatedHeap,
		NoHeapProfiling:      !c.Heap,
		NoGoroutineProfiling: !c.Goroutines,
		AllocForceGC:         true,
	}

	if err := start(pConfig); err != nil {
		logger.Warnf("Unable to start the profiler: %v", err)
		return fmt.Errorf("cloud profiler: %w", err)
	}

	logger.Infof("Cloud Profiler started for %s (%s)", serviceName, c.Label)
	return nil
}
