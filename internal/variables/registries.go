package variables

import "fmt"

// Datasource tags. These end up in the "datasource" column of every frame.
const (
	SourceCDEC      = "CDEC"
	SourceSnotel    = "NRCS"
	SourceUSGS      = "USGS"
	SourceMesowest  = "Mesowest"
	SourceGeoSphere = "GEOSPHERE"
	SourceNorway    = "MET_NORWAY"
	SourceNWS       = "NWS"
	SourceSAIL      = "SAIL"
	SourceCSAS      = "CSAS"
	SourceCUES      = "CUES"
	SourceSnowEx    = "SnowEx"
)

// Base declares the cross-datasource variables with sentinel values only.
// It exists so lookups against an unimplemented datasource fail loudly
// instead of matching an unset field.
var Base = NewRegistry("base",
	SensorDescription{Code: DefaultCode, Name: DefaultName, Description: "PRECIPITATION"},
	SensorDescription{Code: DefaultCode, Name: DefaultName, Description: "SWE"},
	SensorDescription{Code: DefaultCode, Name: DefaultName, Description: "SNOWDEPTH"},
)

// CDEC sensors. Exhaustive list:
// http://cdec4gov.water.ca.gov/reportapp/javareports?name=SensList
var (
	CDECPrecipitationAccum = SensorDescription{Code: "2", Name: "ACCUMULATED PRECIPITATION", Description: "PRECIPITATION, ACCUMULATED"}
	CDECPrecipitation      = SensorDescription{Code: "45", Name: "PRECIPITATION", Description: "PRECIPITATION, INCREMENTAL", Accumulated: true}
	CDECSnowDepth          = SensorDescription{Code: "18", Name: "SNOWDEPTH", Description: "SNOW DEPTH"}
	CDECSWE                = SensorDescription{Code: "3", Name: "SWE", Description: "SNOW, WATER CONTENT"}
	CDECTemp               = SensorDescription{Code: "4", Name: "AIR TEMP", Description: "TEMPERATURE, AIR"}
	CDECTempAvg            = SensorDescription{Code: "30", Name: "AVG AIR TEMP", Description: "TEMPERATURE, AIR AVERAGE"}
	CDECTempMin            = SensorDescription{Code: "32", Name: "MIN AIR TEMP", Description: "TEMPERATURE, AIR MINIMUM"}
	CDECTempMax            = SensorDescription{Code: "31", Name: "MAX AIR TEMP", Description: "TEMPERATURE, AIR MAXIMUM"}
	CDECRH                 = SensorDescription{Code: "12", Name: "RELATIVE HUMIDITY", Description: "RELATIVE HUMIDITY"}
	CDECSolarRad           = SensorDescription{Code: "103", Name: "SOLAR RADIATION", Description: "SOLAR RADIATION"}
	CDECWindSpeed          = SensorDescription{Code: "9", Name: "WIND SPEED", Description: "WIND SPEED"}
	CDECWindDir            = SensorDescription{Code: "10", Name: "WIND DIRECTION", Description: "WIND DIRECTION"}
)

// CDEC ground temperature sensors share naming except for depth.
var cdecGroundTemps = depthSensors("GROUND TEMPERATURE", "GROUND TEMPERATURE OBS", map[string]string{
	"52":  "INT",
	"194": "-25CM",
	"195": "-50CM",
	"196": "-100CM",
})

var CDEC = NewRegistry(SourceCDEC, append([]SensorDescription{
	CDECPrecipitationAccum, CDECPrecipitation, CDECSnowDepth, CDECSWE,
	CDECTemp, CDECTempAvg, CDECTempMin, CDECTempMax, CDECRH,
	CDECSolarRad, CDECWindSpeed, CDECWindDir,
}, cdecGroundTemps...)...)

// SNOTEL sensors (NRCS AWDB element codes).
var (
	SnotelSnowDepth          = SensorDescription{Code: "SNWD", Name: "SNOWDEPTH"}
	SnotelSWE                = SensorDescription{Code: "WTEQ", Name: "SWE"}
	SnotelTemp               = SensorDescription{Code: "TOBS", Name: "AIR TEMP"}
	SnotelTempAvg            = SensorDescription{Code: "TAVG", Name: "AVG AIR TEMP", Description: "AIR TEMPERATURE AVERAGE"}
	SnotelTempMin            = SensorDescription{Code: "TMIN", Name: "MIN AIR TEMP", Description: "AIR TEMPERATURE MINIMUM"}
	SnotelTempMax            = SensorDescription{Code: "TMAX", Name: "MAX AIR TEMP", Description: "AIR TEMPERATURE MAXIMUM"}
	SnotelPrecipitation      = SensorDescription{Code: "PRCPSA", Name: "PRECIPITATION", Description: "PRECIPITATION INCREMENT SNOW-ADJUSTED", Accumulated: true}
	SnotelPrecipitationAccum = SensorDescription{Code: "PREC", Name: "ACCUMULATED PRECIPITATION", Description: "PRECIPITATION ACCUMULATION"}
	SnotelRH                 = SensorDescription{Code: "RHUMV", Name: "RELATIVE HUMIDITY", Description: "RELATIVE HUMIDITY"}
	SnotelStreamVolObs       = SensorDescription{Code: "SRVO", Name: "STREAM VOLUME OBS"}
	SnotelStreamVolAdj       = SensorDescription{Code: "SRVOX", Name: "STREAM VOLUME ADJ"}
)

var snotelSoilSensors = append(
	depthSensors("GROUND TEMPERATURE", "GROUND TEMPERATURE OBS", map[string]string{
		"STO:2":  "-2IN",
		"STO:4":  "-4IN",
		"STO:8":  "-8IN",
		"STO:20": "-20IN",
	}),
	depthSensors("SOIL MOISTURE", "SOIL MOISTURE PERCENT", map[string]string{
		"SMS:2":  "-2IN",
		"SMS:4":  "-4IN",
		"SMS:8":  "-8IN",
		"SMS:20": "-20IN",
	})...,
)

var Snotel = NewRegistry(SourceSnotel, append([]SensorDescription{
	SnotelSnowDepth, SnotelSWE, SnotelTemp, SnotelTempAvg, SnotelTempMin,
	SnotelTempMax, SnotelPrecipitation, SnotelPrecipitationAccum, SnotelRH,
	SnotelStreamVolObs, SnotelStreamVolAdj,
}, snotelSoilSensors...)...)

// Mesowest sensors.
// https://developers.synopticdata.com/mesonet/v2/api-variables/
var (
	MesowestTemp          = SensorDescription{Code: "air_temp", Name: "AIR TEMP"}
	MesowestDewpoint      = SensorDescription{Code: "dew_point_temperature", Name: "DEW POINT TEMPERATURE"}
	MesowestRH            = SensorDescription{Code: "relative_humidity", Name: "RELATIVE HUMIDITY"}
	MesowestWindSpeed     = SensorDescription{Code: "wind_speed", Name: "WIND SPEED"}
	MesowestWindDirection = SensorDescription{Code: "wind_direction", Name: "WIND DIRECTION"}
	MesowestPressure      = SensorDescription{Code: "pressure", Name: "PRESSURE"}
	MesowestSnowDepth     = SensorDescription{Code: "snow_depth", Name: "SNOWDEPTH"}
	MesowestSolarRad      = SensorDescription{Code: "solar_radiation", Name: "SOLAR RADIATION"}
	MesowestWetBulb       = SensorDescription{Code: "wet_bulb_temperature", Name: "WET BULB TEMPERATURE"}
	MesowestSoilTemp      = SensorDescription{Code: "soil_temp", Name: "SOIL TEMPERATURE"}
	MesowestSoilTempIR    = SensorDescription{Code: "soil_temp_ir", Name: "SOIL TEMPERATURE IR"}
	MesowestSWE           = SensorDescription{Code: "snow_water_equiv", Name: "SWE"}
	MesowestNetShortwave  = SensorDescription{Code: "net_radiation_sw", Name: "NET SHORTWAVE RADIATION"}
	MesowestNetLongwave   = SensorDescription{Code: "net_radiation_lw", Name: "NET LONGWAVE RADIATION"}
	MesowestStreamflow    = SensorDescription{Code: "stream_flow", Name: "STREAMFLOW"}
	MesowestPrecipitation = SensorDescription{Code: "precip_accum", Name: "PRECIPITATION", Accumulated: true}
)

var Mesowest = NewRegistry(SourceMesowest,
	MesowestTemp, MesowestDewpoint, MesowestRH, MesowestWindSpeed,
	MesowestWindDirection, MesowestPressure, MesowestSnowDepth,
	MesowestSolarRad, MesowestWetBulb, MesowestSoilTemp, MesowestSoilTempIR,
	MesowestSWE, MesowestNetShortwave, MesowestNetLongwave,
	MesowestStreamflow, MesowestPrecipitation,
)

// USGS parameters.
// https://help.waterdata.usgs.gov/codes-and-parameters/parameters
var (
	USGSDischarge     = SensorDescription{Code: "00060", Name: "DISCHARGE", Description: "DISCHARGE (CFS)"}
	USGSStreamflow    = SensorDescription{Code: "74082", Name: "STREAMFLOW", Description: "STREAMFLOW, DAILY VOLUME (AC-FT)"}
	USGSSnowDepth     = SensorDescription{Code: "72189", Name: "SNOWDEPTH", Description: "Snow depth, meters"}
	USGSSWE           = SensorDescription{Code: "72341", Name: "SWE", Description: "Water content of snow, millimeters"}
	USGSSolarRad      = SensorDescription{Code: "72179", Name: "SOLAR RADIATION", Description: "Shortwave solar radiation, watts per square meter"}
	USGSUpShortwave   = SensorDescription{Code: "72185", Name: "UPWARD SHORTWAVE RADIATION", Description: "Shortwave radiation, upward intensity, watts per square meter"}
	USGSDownShortwave = SensorDescription{Code: "72186", Name: "DOWNWARD SHORTWAVE RADIATION", Description: "Shortwave radiation, downward intensity, watts per square meter"}
	USGSNetShortwave  = SensorDescription{Code: "72201", Name: "NET SHORTWAVE RADIATION", Description: "Net incident shortwave radiation, watts per square meter"}
	USGSNetLongwave   = SensorDescription{Code: "72202", Name: "NET LONGWAVE RADIATION", Description: "Net emitted longwave radiation, watts per square meter"}
	USGSDownLongwave  = SensorDescription{Code: "72175", Name: "DOWNWARD LONGWAVE RADIATION", Description: "Longwave radiation, downward intensity, watts per square meter"}
	USGSUpLongwave    = SensorDescription{Code: "72174", Name: "UPWARD LONGWAVE RADIATION", Description: "Longwave radiation, upward intensity, watts per square meter"}
	USGSSurfaceTemp   = SensorDescription{Code: "72405", Name: "SURFACE TEMPERATURE", Description: "Surface temperature, non-contact, degrees Celsius"}
)

var USGS = NewRegistry(SourceUSGS,
	USGSDischarge, USGSStreamflow, USGSSnowDepth, USGSSWE, USGSSolarRad,
	USGSUpShortwave, USGSDownShortwave, USGSNetShortwave, USGSNetLongwave,
	USGSDownLongwave, USGSUpLongwave, USGSSurfaceTemp,
)

// GeoSphere Austria, current (10 minute) dataset.
var (
	GeoSphereTemp          = SensorDescription{Code: "TL", Name: "AIR TEMP"}
	GeoSphereSnowDepth     = SensorDescription{Code: "SCHNEE", Name: "SNOWDEPTH"}
	GeoSpherePrecipitation = SensorDescription{Code: "RR", Name: "PRECIPITATION", Description: "Rainfall in the last 10 minutes", Accumulated: true}
)

var geoSphereGroundTemps = depthSensors("GROUND TEMPERATURE", "Soil temperature", map[string]string{
	"TB1": "-10CM",
	"TB2": "-20CM",
	"TB3": "-50CM",
})

var GeoSphereCurrent = NewRegistry(SourceGeoSphere, append([]SensorDescription{
	GeoSphereTemp, GeoSphereSnowDepth, GeoSpherePrecipitation,
}, geoSphereGroundTemps...)...)

// GeoSphere Austria, daily historical klima-v2 dataset. Daily and 10-minute
// datasets use different element names.
var (
	GeoSphereHistTemp          = SensorDescription{Code: "t7", Name: "AIR TEMP", Description: "Air temperature 2m on observation date"}
	GeoSphereHistSnowDepth     = SensorDescription{Code: "schnee", Name: "SNOWDEPTH"}
	GeoSphereHistPrecipitation = SensorDescription{Code: "nied", Name: "PRECIPITATION", Description: "Precipitation total", Accumulated: true}
)

var GeoSphereHist = NewRegistry(SourceGeoSphere,
	GeoSphereHistTemp, GeoSphereHistSnowDepth, GeoSphereHistPrecipitation,
)

// MET Norway Frost elements. https://frost.met.no/elementtable
var (
	NorwayTemp               = SensorDescription{Code: "air_temperature", Name: "AIR TEMP", Description: "Air temperature 2m above ground, present value"}
	NorwayTempAvg            = SensorDescription{Code: "best_estimate_mean(air_temperature P1D)", Name: "AVG AIR TEMP", Description: "Homogenised daily mean temperature"}
	NorwaySnowDepth          = SensorDescription{Code: "surface_snow_thickness", Name: "SNOWDEPTH", Description: "Snow depth in cm from the ground to the top of the snow cover"}
	NorwaySWE                = SensorDescription{Code: "liquid_water_content_of_surface_snow", Name: "SWE", Description: "Snow water equivalent as height in mm of a water column"}
	NorwayPrecipitationAccum = SensorDescription{Code: "accumulated(precipitation_amount)", Name: "ACCUMULATED PRECIPITATION", Description: "Total precipitation amount in gauge since last emptying"}
	NorwayPrecipitation      = SensorDescription{Code: "precipitation_amount", Name: "PRECIPITATION", Description: "Tipping bucket precipitation", Accumulated: true}
)

var Norway = NewRegistry(SourceNorway,
	NorwayTemp, NorwayTempAvg, NorwaySnowDepth, NorwaySWE,
	NorwayPrecipitationAccum, NorwayPrecipitation,
)

// NWS gridpoint forecast elements.
var (
	NWSTemp          = SensorDescription{Code: "temperature", Name: "AIR TEMP"}
	NWSPrecipitation = SensorDescription{Code: "quantitativePrecipitation", Name: "PRECIPITATION", Accumulated: true}
	NWSSnowfall      = SensorDescription{Code: "snowfallAmount", Name: "SNOWFALL", Accumulated: true}
	NWSHumidity      = SensorDescription{Code: "relativeHumidity", Name: "RELATIVE HUMIDITY"}
	NWSWindSpeed     = SensorDescription{Code: "windSpeed", Name: "WIND SPEED"}
)

var NWS = NewRegistry(SourceNWS,
	NWSTemp, NWSPrecipitation, NWSSnowfall, NWSHumidity, NWSWindSpeed,
)

// SAIL (ARM Surface Atmosphere Integrated Field Laboratory) netCDF
// variables. Extra identifies the ARM datastream holding the variable:
// site, measurement, facility code, and data level combine into names
// like "gucgndrad60sM1.b1".
var (
	SAILDownShortwave = SensorDescription{
		Code: "down_short_hemisp", Name: "DOWNWARD SHORTWAVE RADIATION", Units: "W/m^2",
		Extra: map[string]string{"site": "guc", "measurement": "skyrad60s", "facility_code": "M1", "data_level": "b1"},
	}
	SAILUpShortwave = SensorDescription{
		Code: "up_short_hemisp", Name: "UPWARD SHORTWAVE RADIATION", Units: "W/m^2",
		Extra: map[string]string{"site": "guc", "measurement": "gndrad60s", "facility_code": "M1", "data_level": "b1"},
	}
	SAILDownLongwave = SensorDescription{
		Code: "down_long_hemisp", Name: "DOWNWARD LONGWAVE RADIATION", Units: "W/m^2",
		Extra: map[string]string{"site": "guc", "measurement": "skyrad60s", "facility_code": "M1", "data_level": "b1"},
	}
	SAILUpLongwave = SensorDescription{
		Code: "up_long_hemisp", Name: "UPWARD LONGWAVE RADIATION", Units: "W/m^2",
		Extra: map[string]string{"site": "guc", "measurement": "gndrad60s", "facility_code": "M1", "data_level": "b1"},
	}
	SAILTemp = SensorDescription{
		Code: "temp_mean", Name: "AIR TEMP", Units: "deg C",
		Extra: map[string]string{"site": "guc", "measurement": "met", "facility_code": "M1", "data_level": "b1"},
	}
	SAILPrecipitation = SensorDescription{
		Code: "precip", Name: "PRECIPITATION", Units: "mm", Accumulated: true,
		Extra: map[string]string{"site": "guc", "measurement": "met", "facility_code": "M1", "data_level": "b1"},
	}
)

var SAIL = NewRegistry(SourceSAIL,
	SAILDownShortwave, SAILUpShortwave, SAILDownLongwave, SAILUpLongwave,
	SAILTemp, SAILPrecipitation,
)

// CSAS (Center for Snow and Avalanche Studies) hourly csv columns.
var (
	CSASSnowDepth     = SensorDescription{Code: "Sno_Height_M", Name: "SNOWDEPTH", Units: "m"}
	CSASTemp          = SensorDescription{Code: "UpAir_Min_C", Name: "AIR TEMP", Units: "deg C"}
	CSASUpShortwave   = SensorDescription{Code: "Solar_Wm2_Up", Name: "UPWARD SHORTWAVE RADIATION", Units: "W/m^2"}
	CSASDownShortwave = SensorDescription{Code: "Solar_Wm2_Dn", Name: "DOWNWARD SHORTWAVE RADIATION", Units: "W/m^2"}
	CSASStreamflow    = SensorDescription{Code: "Discharge_CFS", Name: "STREAMFLOW", Units: "cfs"}
)

var CSAS = NewRegistry(SourceCSAS,
	CSASSnowDepth, CSASTemp, CSASUpShortwave, CSASDownShortwave, CSASStreamflow,
)

// CUES level-1 csv columns. Some quantities report from more than one
// instrument; Extra carries the instrument so adapters can pick the column.
var (
	CuesTemp           = SensorDescription{Code: "air temperature", Name: "AIR TEMP"}
	CuesRH             = SensorDescription{Code: "RH", Name: "RELATIVE HUMIDITY"}
	CuesLaserSnowDepth = SensorDescription{Code: "laser snow depth", Name: "LASER SNOWDEPTH"}
	CuesSnowDepth      = SensorDescription{Code: "snow depth", Name: "SNOWDEPTH"}
	CuesSWE            = SensorDescription{Code: "Snow Pillow (DWR) SWE", Name: "SWE"}
	CuesDownShortwave  = SensorDescription{Code: "downward looking solar radiation", Name: "DOWNWARD SHORTWAVE RADIATION"}
	CuesUpShortwave    = SensorDescription{
		Code: "upward looking solar radiation", Name: "UPWARD SHORTWAVE RADIATION",
		Extra: map[string]string{"instrument": "Eppley Lab precision spectral pyranometer"},
	}
	CuesUpShortwave2 = SensorDescription{
		Code: "upward looking solar radiation", Name: "UPWARD SHORTWAVE RADIATION 2",
		Extra: map[string]string{"instrument": "uplooking Sunshine pyranometer  direct and diffus"},
	}
)

var CUES = NewRegistry(SourceCUES,
	CuesTemp, CuesRH, CuesLaserSnowDepth, CuesSnowDepth, CuesSWE,
	CuesDownShortwave, CuesUpShortwave, CuesUpShortwave2,
)

// SnowEx met station csv columns.
var (
	SnowExTemp20ft      = SensorDescription{Code: "AirTC_20ft_Avg", Name: "AIR TEMP @20ft", Description: "Air temperature measured at 20 ft tower level"}
	SnowExTemp10ft      = SensorDescription{Code: "AirTC_10ft_Avg", Name: "AIR TEMP @10ft", Description: "Air temperature measured at 10 ft tower level"}
	SnowExUpShortwave   = SensorDescription{Code: "SUp_Avg", Name: "UPWARD SHORTWAVE RADIATION", Extra: map[string]string{"instrument": "CNR4 Net Radiometer"}}
	SnowExDownShortwave = SensorDescription{Code: "SDn_Avg", Name: "DOWNWARD SHORTWAVE RADIATION", Extra: map[string]string{"instrument": "CNR4 Net Radiometer"}}
	SnowExSnowDepth     = SensorDescription{Code: "SnowDepthFilter(m)", Name: "SNOWDEPTH", Description: "Snow surface height in meters with filtering"}
)

var snowExSoilTemps = depthSensors("SOIL TEMP", "Soil temperature", map[string]string{
	"TC_5cm_Avg":  "@ 5cm",
	"TC_20cm_Avg": "@ 20cm",
	"TC_50cm_Avg": "@ 50cm",
})

var SnowEx = NewRegistry(SourceSnowEx, append([]SensorDescription{
	SnowExTemp20ft, SnowExTemp10ft, SnowExUpShortwave, SnowExDownShortwave,
	SnowExSnowDepth,
}, snowExSoilTemps...)...)

// depthSensors expands a code-to-depth table into one sensor per depth.
// Keeps the per-depth registries declarative instead of hand-enumerated.
func depthSensors(namePrefix, descPrefix string, byCode map[string]string) []SensorDescription {
	out := make([]SensorDescription, 0, len(byCode))
	for code, depth := range byCode {
		out = append(out, SensorDescription{
			Code:        code,
			Name:        fmt.Sprintf("%s %s", namePrefix, depth),
			Description: fmt.Sprintf("%s %s", descPrefix, depth),
		})
	}
	return out
}
